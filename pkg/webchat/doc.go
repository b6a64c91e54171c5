// Package webchat serves chat sessions over HTTP and websockets.
//
// Ownership model:
//   - A client is a browser, identified by the ragchat_client cookie. Its
//     transcript is persisted under blobstore.ClientKey(clientID, "chat_history").
//   - A session is one page load of that client. Each session has its own
//     reconcile.Engine, hydrated from the client's blob on first use, and is
//     dropped from the registry after the configured idle TTL.
//   - All work on a session is serialized by chat.Session.
//
// Routes (see Handler.Routes):
//
//	POST /api/sessions                  create a session
//	GET  /api/sessions/{id}             render the session view
//	POST /api/sessions/{id}/chat        submit a prompt and wait for the answer
//	POST /api/sessions/{id}/retry       answer a trailing unanswered prompt
//	POST /api/sessions/{id}/feedback    apply a feedback edit
//	GET  /api/sessions/{id}/ws          stream prompts, chunks and edits
//	GET  /healthz                       liveness
package webchat
