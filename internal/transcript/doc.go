// Package transcript folds chat streams into buffered responses and exports
// stored chats as Markdown or HTML.
package transcript
