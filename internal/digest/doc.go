// Package digest lists a user's emails and summarizes them with a text
// generator.
//
// A Service is shared by all users. Each call receives the caller's OAuth
// token source and opens the mailbox through a MailboxFactory, so no
// per-user state is kept between calls.
//
// Batch summaries isolate failures: an email that cannot be fetched or
// summarized is replaced by a placeholder entry and the rest of the batch
// continues.
package digest
