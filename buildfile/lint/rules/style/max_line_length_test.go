package style

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile/lint"
)

func TestMaxLineLengthRule(t *testing.T) {
	t.Run("detects lines exceeding max length", func(t *testing.T) {
		rule := NewMaxLineLengthRule(40)

		content := "FROM ubuntu:22.04\nRUN echo " + strings.Repeat("x", 40) + "\nRUN echo world\n"
		f, err := buildfile.ParseString(content)
		require.NoError(t, err)

		issues := rule.Check(lint.NewContext(f))
		require.Len(t, issues, 1)
		assert.Equal(t, "max-line-length", issues[0].Rule)
		assert.Equal(t, lint.SeverityInfo, issues[0].Severity)
		assert.Equal(t, 2, issues[0].Location.StartLine)
		assert.Contains(t, issues[0].Message, "40")
		assert.Equal(t, 49, issues[0].Context["line_length"])
	})

	t.Run("continuation lines are checked individually", func(t *testing.T) {
		rule := NewMaxLineLengthRule(30)

		content := "FROM ubuntu:22.04\nRUN pip install \\\n    numpy==1.26.4 \\\n    pandas==2.2.2\n"
		f, err := buildfile.ParseString(content)
		require.NoError(t, err)

		assert.Empty(t, rule.Check(lint.NewContext(f)))
	})

	t.Run("default length", func(t *testing.T) {
		rule := NewMaxLineLengthRule(0)
		assert.Contains(t, rule.Description(), "120")
	})
}
