// Package bridge reconciles Asana activity with agent conversations.
//
// A task assigned to the agent user starts a conversation seeded with the
// task description and pins a progress link on the task. An @mention of the
// agent in a comment is delivered to the task's live conversation, or starts
// a new one seeded with the task and its earlier comments. The task to
// conversation mapping is persisted by the mapping package, and results are
// posted back by the reporter registry that the reconciler arms.
package bridge
