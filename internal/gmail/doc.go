// Package gmail reads messages from the Gmail API on behalf of a signed-in user.
//
// Client lists message IDs and fetches full messages, recording a span and an
// upstream metric per call. The extraction helpers turn a raw message into an
// Email: exact-name header lookup with per-field defaults and plain text body
// decoding (inline body first, then the first text/plain part).
//
// Example usage:
//
//	client, err := gmail.NewClient(ctx, tokenSource, metrics)
//	if err != nil {
//	    return err
//	}
//	ids, err := client.ListMessageIDs(ctx, "is:unread", 10)
//	if err != nil {
//	    return err
//	}
//	msg, err := client.GetMessage(ctx, ids[0])
//	if err != nil {
//	    return err
//	}
//	email := gmail.ParseMessage(msg)
package gmail
