package deliberation

import (
	"strings"
	"time"

	"github.com/magi-sh/magi/internal/core"
)

const previewLength = 120

// BuildDiagnostics derives a report from a fully refreshed repository view.
// It is a pure function: callers re-read session state after the step so
// the report never diverges from what is persisted.
func BuildDiagnostics(step string, full *core.SessionFull, eventLog []string) *core.Diagnostics {
	diag := &core.Diagnostics{
		Step:      step,
		Timestamp: time.Now().UTC(),
		Events:    eventLog,
	}
	if diag.Events == nil {
		diag.Events = []string{}
	}

	votesByAgent := make(map[string][]*core.Vote)
	voteTotals := make(map[int64]int)
	for _, vote := range full.Votes {
		votesByAgent[vote.AgentID] = append(votesByAgent[vote.AgentID], vote)
		voteTotals[vote.TargetMessageID] += vote.Score
		diag.Totals.Votes++
	}

	messagesByAgent := make(map[string][]*core.Message)
	for _, msg := range full.Messages {
		switch msg.Role {
		case core.RoleAgentProposal:
			diag.Totals.Proposals++
			messagesByAgent[msg.AgentID] = append(messagesByAgent[msg.AgentID], msg)
		case core.RoleAgentCritique:
			diag.Totals.Critiques++
			messagesByAgent[msg.AgentID] = append(messagesByAgent[msg.AgentID], msg)
		case core.RoleConsensus:
			diag.Totals.Consensus++
			diag.ConsensusMessageID = msg.ID
		}
	}

	for _, agent := range full.Agents {
		ad := core.AgentDiagnostics{
			AgentID:   agent.ID,
			Slug:      agent.Slug,
			Name:      agent.Name,
			Provider:  string(agent.Provider),
			Proposals: []core.MessageDigest{},
			Critiques: []core.MessageDigest{},
			Votes:     []core.VoteDigest{},
		}

		for _, msg := range messagesByAgent[agent.ID] {
			digest := core.MessageDigest{
				MessageID: msg.ID,
				Role:      string(msg.Role),
				Preview:   preview(msg.Content),
				Fallback:  msg.Meta.Fallback,
			}
			if msg.Meta.Fallback {
				ad.FallbackTriggers++
			}
			if msg.Role == core.RoleAgentProposal {
				ad.Proposals = append(ad.Proposals, digest)
			} else {
				ad.Critiques = append(ad.Critiques, digest)
			}
		}

		for _, vote := range votesByAgent[agent.ID] {
			fallback := isFallbackVote(vote)
			if fallback {
				ad.FallbackTriggers++
			}
			ad.Votes = append(ad.Votes, core.VoteDigest{
				TargetMessageID: vote.TargetMessageID,
				Score:           vote.Score,
				Rationale:       vote.Rationale,
				Fallback:        fallback,
			})
		}

		diag.Agents = append(diag.Agents, ad)
	}

	if full.Consensus != nil && full.Consensus.FinalMessageID != 0 {
		diag.WinningProposalID = full.Consensus.FinalMessageID
		diag.WinningScore = voteTotals[full.Consensus.FinalMessageID]
	}

	return diag
}

// isFallbackVote flags votes produced by the heuristic path. The rationale
// marker is the contract with votes.HeuristicRationale.
func isFallbackVote(vote *core.Vote) bool {
	return strings.Contains(strings.ToLower(vote.Rationale), "heuristic")
}

// preview normalizes whitespace and truncates to a fixed display length.
func preview(content string) string {
	normalized := strings.Join(strings.Fields(content), " ")
	if len(normalized) <= previewLength {
		return normalized
	}
	cut := previewLength
	for cut > 0 && normalized[cut]&0xC0 == 0x80 {
		cut--
	}
	return normalized[:cut] + "…"
}
