package deliberation

import (
	"fmt"
	"strings"

	"github.com/magi-sh/magi/internal/core"
	"github.com/magi-sh/magi/internal/providers"
)

// buildProposalPrompt frames the agent as an independent auditor and
// layers in whatever shared context the session carries. The relay tool
// instructions only appear when the tool is enabled for the call.
func buildProposalPrompt(agent *core.Agent, sharedContext, question string, relayEnabled bool) []providers.Message {
	var system strings.Builder
	fmt.Fprintf(&system, "You are %s, one of three independent auditors deliberating on a technical question. ", agent.Name)
	system.WriteString("Produce a thorough, self-contained proposal answering the question. ")
	system.WriteString("Be specific and actionable; cite concrete evidence from the provided context where it exists. ")
	system.WriteString("Do not defer to the other auditors or hedge about consensus; they will evaluate your proposal independently.")

	if sharedContext != "" {
		system.WriteString("\n\nBackground context for this deliberation:\n\n")
		system.WriteString(sharedContext)
	}

	if relayEnabled {
		system.WriteString("\n\nYou may call the ")
		system.WriteString(providers.RelayToolName)
		system.WriteString(" tool to probe live sites or APIs referenced in the question. ")
		system.WriteString("Use it sparingly; each conversation allows a small number of requests.")
	}

	return []providers.Message{
		{Role: "system", Content: system.String()},
		{Role: "user", Content: question},
	}
}

// buildVotePrompt asks an agent to judge a peer's proposal and answer in
// strict JSON. Models do not always comply, which is why the parser has
// fallback tiers.
func buildVotePrompt(agent *core.Agent, question, proposalContent string) []providers.Message {
	system := fmt.Sprintf(
		"You are %s, evaluating another auditor's proposal for the question below. "+
			"Score it from 0 (useless) to 100 (excellent) for correctness, completeness, and actionability. "+
			`Respond with ONLY a JSON object of the form {"score": <integer>, "reason": "<one sentence>"} and nothing else.`,
		agent.Name)

	user := fmt.Sprintf("Question:\n%s\n\nProposal under evaluation:\n%s", question, proposalContent)

	return []providers.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}
