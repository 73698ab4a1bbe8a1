package digest

import (
	"fmt"

	"github.com/teemow/inboxdigest/internal/gmail"
)

// BatchBodyLimit is the number of body characters sent to the model per
// email in a batch request.
const BatchBodyLimit = 2000

const summaryPromptFormat = `Please provide a comprehensive summary of this email:

Subject: %s
From: %s
Content: %s

Please provide:
1. A brief summary (2-3 sentences)
2. Key points or action items
3. Important dates or deadlines mentioned
4. Overall sentiment/tone
5. Any follow-up actions needed

Format your response in a clear, structured way.`

const batchPromptFormat = `Please provide a brief summary of this email:

Subject: %s
From: %s
Content: %s

Provide a concise 2-3 sentence summary focusing on the main points and any action items.`

// SummaryPrompt builds the detailed single-email prompt from the full body.
func SummaryPrompt(e gmail.Email) string {
	return fmt.Sprintf(summaryPromptFormat, e.Subject, e.From, e.Body)
}

// BatchPrompt builds the short batch prompt with the body cut to BatchBodyLimit.
func BatchPrompt(e gmail.Email) string {
	return fmt.Sprintf(batchPromptFormat, e.Subject, e.From, gmail.Truncate(e.Body, BatchBodyLimit))
}
