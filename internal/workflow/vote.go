package workflow

import (
	"fmt"
	"strings"
)

// VoteMode selects the winner among voting outputs.
type VoteMode string

const (
	VoteMajority  VoteMode = "majority"
	VoteMaxTokens VoteMode = "max-tokens"
)

// ParseVoteMode validates a vote mode name. Empty means majority.
func ParseVoteMode(s string) (VoteMode, error) {
	switch m := VoteMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", VoteMajority:
		return VoteMajority, nil
	case VoteMaxTokens, "max_tokens":
		return VoteMaxTokens, nil
	}
	return "", fmt.Errorf("unknown vote mode %q (want majority or max-tokens)", s)
}

// Dedupe removes repeated outputs, keeping first occurrences in order.
func Dedupe(outputs []string) []string {
	seen := make(map[string]struct{}, len(outputs))
	out := make([]string, 0, len(outputs))
	for _, o := range outputs {
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	return out
}

// MajorityVote returns the most frequent output.
// Ties go to the output encountered first.
func MajorityVote(outputs []string) string {
	counts := make(map[string]int, len(outputs))
	for _, o := range outputs {
		counts[o]++
	}
	var winner string
	best := 0
	for _, o := range outputs {
		if counts[o] > best {
			winner, best = o, counts[o]
		}
	}
	return winner
}

// WordCount is the whitespace-separated word count used by max-tokens voting.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// MaxTokensVote returns the output with the most whitespace-separated words.
// Ties go to the output encountered first.
func MaxTokensVote(outputs []string) string {
	var winner string
	best := -1
	for _, o := range outputs {
		if n := WordCount(o); n > best {
			winner, best = o, n
		}
	}
	return winner
}

// Vote picks the winner for mode.
func Vote(mode VoteMode, outputs []string) string {
	if mode == VoteMaxTokens {
		return MaxTokensVote(outputs)
	}
	return MajorityVote(outputs)
}
