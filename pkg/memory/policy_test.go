package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolicyShouldRetrieve(t *testing.T) {
	tests := []struct {
		name      string
		utterance string
		want      bool
	}{
		{"empty", "", false},
		{"whitespace only", "   \t ", false},
		{"command turn", "turn the volume up.", false},
		{"small talk", "how is the weather today", false},
		{"remember prefix", "Remember that I park on level 3", true},
		{"do you remember", "hey, do you remember my favorite color?", true},
		{"profile question", "what do you know about me?", true},
		{"recall question", "What do you remember about last week?", true},
		{"possessive question", "where did I leave my keys?", true},
		{"possessive without question", "my keys are on the table", false},
		{"preference keyword", "I have a strong preference here", true},
		{"favourite spelling", "what is my favourite film", true},
		{"sister keyword", "call my sister tomorrow", true},
		{"case insensitive", "DO YOU REMEMBER THE PLAN", true},
	}

	policy := NewPolicy()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.ShouldRetrieve(tt.utterance))
		})
	}
}
