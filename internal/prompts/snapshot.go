// Package prompts contains the LLM prompt templates used internally by
// Lister.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates use fmt.Sprintf interpolation, benefit from
// compile-time embedding, and can be validated by tests.
package prompts

import "fmt"

// snapshotTemplate is the prompt sent to a text-generation model to
// summarize a conversation for a memory snapshot. The single format verb
// is the role-tagged transcript.
const snapshotTemplate = `Summarize this merchant assistant conversation in 2-4 sentences. Cover:
1. Actions taken (tools run, drafts created, products published)
2. Decisions the merchant made
3. The current workflow stage
4. Pending next steps

Be factual and concise. Do not invent details that are not in the transcript.

Conversation:
%s

Summary:`

// SnapshotPrompt returns the fully interpolated summarization prompt for
// the given role-tagged transcript.
func SnapshotPrompt(transcript string) string {
	return fmt.Sprintf(snapshotTemplate, transcript)
}
