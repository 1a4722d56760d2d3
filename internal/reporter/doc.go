// Package reporter posts agent results back to Asana tasks.
//
// A Registry keeps one Listener per conversation. A listener watches the
// conversation's event stream and, on the first terminal agent state since
// it was armed, posts the agent's last message as a task comment:
//
//	<body>{message as Asana HTML}\n\n<em>⏱️ 2m 5s • 💰 $0.0354</em></body>
//
// After reporting, a listener stays quiet until Rearm is called, which the
// bridge does whenever it delivers a follow-up message.
//
// Subscribing races the conversation itself: the agent may finish before
// the listener exists. Each Subscribe therefore schedules a one-time scan of
// recent history. The scan and the live stream share a claim on the
// listener, so exactly one of them posts.
package reporter
