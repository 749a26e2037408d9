// Package conversation runs one chat request end to end.
//
// # Pipeline
//
// Service.Chat does, in order:
//
//  1. FindModel: the model must be in the caller's resolved set. A denial
//     returns before any provider client is built.
//  2. BuildClient for the resolved model.
//  3. Resolve or create the chat. New chats are titled from the first
//     message, cut to 80 runes.
//  4. Record the user turn and emit its id (user_message_id).
//  5. SelectTools and BuildToolTable, when the model supports tools and the
//     request selected some.
//  6. Run the generation loop, relaying text, tool calls and tool results.
//  7. Sanitize the produced turns, give each a fresh id and persist them
//     with a detached timeout. Each assistant turn's id is emitted as an
//     annotation; a failed save is logged and the stream still ends with done.
//
// The tool table is closed when the stream ends, including on cancellation.
//
// # Stored content
//
// A turn's content is a JSON array of parts:
//
//	[{"type":"text","text":"..."},
//	 {"type":"tool_call","tool_call_id":"c1","tool_name":"github_search","args":{...}},
//	 {"type":"tool_result","tool_call_id":"c1","tool_name":"github_search","result":"..."}]
//
// # Broadcasting
//
// When a Broadcaster is configured, every persisted turn is published to
// the owning user's subscribers so other open clients can follow along.
package conversation
