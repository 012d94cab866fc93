package classifier

import (
	"errors"
	"regexp/syntax"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/logsort/internal/logger"
)

func TestClassify(t *testing.T) {
	c := NewDefault(logger.NewNop())

	t.Run("DefaultTable", func(t *testing.T) {
		cases := []struct {
			text  string
			label string
			index int
		}{
			{"User User123 logged in.", LabelUserAction, 0},
			{"User User7 logged out.", LabelUserAction, 0},
			{"Backup started at 2023-10-01 12:00:00", LabelSystemNotification, 1},
			{"Backup ended at 2023-10-01 13:00:00", LabelSystemNotification, 1},
			{"Backup completed successfully.", LabelSystemNotification, 2},
			{"System updated to version 1.2.3", LabelSystemNotification, 3},
			{"File report.pdf uploaded successfully by user User456", LabelSystemNotification, 4},
			{"Disk cleanup completed successfully.", LabelSystemNotification, 5},
			{"System reboot initiated by user User789", LabelSystemNotification, 6},
			{"Account with ID 1001 created by admin", LabelUserAction, 7},
		}

		for _, tc := range cases {
			t.Run(tc.text, func(t *testing.T) {
				result := c.Classify(tc.text)
				require.True(t, result.IsMatch())
				assert.Equal(t, tc.label, result.Label)
				assert.Equal(t, tc.index, result.RuleIndex)
			})
		}
	})

	t.Run("CaseInsensitive", func(t *testing.T) {
		upper := c.Classify("USER USER123 LOGGED IN.")
		lower := c.Classify("User User123 logged in.")
		assert.Equal(t, lower, upper)
		assert.Equal(t, LabelUserAction, upper.Label)

		assert.Equal(t, LabelSystemNotification, c.Classify("bAcKuP cOmPlEtEd SuCcEsSfUlLy.").Label)
	})

	t.Run("SubstringSearch", func(t *testing.T) {
		result := c.Classify("prefix text Backup started at 2023-10-01 noise")
		assert.Equal(t, LabelSystemNotification, result.Label)
		assert.Equal(t, 1, result.RuleIndex)
	})

	t.Run("EmbeddedFragmentOverMatches", func(t *testing.T) {
		result := c.Classify("ERROR payment failed; earlier note: Backup completed successfully. retrying")
		assert.True(t, result.IsMatch())
		assert.Equal(t, LabelSystemNotification, result.Label)
		assert.Equal(t, 2, result.RuleIndex)
	})

	t.Run("RegexMetacharacters", func(t *testing.T) {
		// "." in "logged (in|out)." needs one more character after in/out
		assert.False(t, c.Classify("User User123 logged in").IsMatch())
		assert.True(t, c.Classify("User User123 logged in!").IsMatch())
		// \d+ requires digits
		assert.False(t, c.Classify("User UserABC logged in.").IsMatch())
	})

	t.Run("UnicodeDigits", func(t *testing.T) {
		for _, text := range []string{
			"User User١٢ logged in.",
			"User User४२ logged out.",
			"User User１２３ logged in.",
		} {
			result := c.Classify(text)
			assert.Equal(t, LabelUserAction, result.Label, text)
			assert.Equal(t, 0, result.RuleIndex, text)
		}
		assert.False(t, c.Classify("User User½ logged in.").IsMatch())
	})

	t.Run("NoMatch", func(t *testing.T) {
		result := c.Classify("Hey bro, Chill ya!")
		assert.False(t, result.IsMatch())
		assert.Equal(t, Unmatched, result)
		assert.Empty(t, result.Label)
		assert.Equal(t, -1, result.RuleIndex)
		assert.Equal(t, UnclassifiedLabel, result.String())
		assert.Equal(t, "review", result.LabelOr("review"))
	})

	t.Run("EmptyInput", func(t *testing.T) {
		assert.Equal(t, Unmatched, c.Classify(""))
	})

	t.Run("FirstMatchWins", func(t *testing.T) {
		// matches rule 5 (File ... uploaded) and rule 1 (User UserN logged out.)
		result := c.Classify("File a.txt uploaded successfully by user User User5 logged out.")
		assert.Equal(t, LabelUserAction, result.Label)
		assert.Equal(t, 0, result.RuleIndex)

		// matches rule 3 and rule 4
		result = c.Classify("Backup completed successfully. System updated to version 2")
		assert.Equal(t, 2, result.RuleIndex)
	})

	t.Run("Idempotent", func(t *testing.T) {
		text := "System reboot initiated by user admin"
		assert.Equal(t, c.Classify(text), c.Classify(text))
	})

	t.Run("ClassifyRecordIgnoresSource", func(t *testing.T) {
		result := c.ClassifyRecord("ModernCRM", "Account with ID 1001 created by admin")
		assert.Equal(t, LabelUserAction, result.Label)

		assert.False(t, c.ClassifyRecord("Backup completed successfully.", "nothing here").IsMatch())
	})
}

func TestRuleOrder(t *testing.T) {
	text := "Account with ID 7 created by User User1 logged in."

	defaults := DefaultRules()
	inOrder := New(MustRuleSet(defaults), nil)
	assert.Equal(t, 0, inOrder.Classify(text).RuleIndex)

	// move rule 8 in front of rule 1
	reordered := append([]Rule{defaults[7]}, defaults[:7]...)
	swapped := New(MustRuleSet(reordered), nil)
	assert.Equal(t, 0, swapped.Classify(text).RuleIndex)
	assert.Equal(t, defaults[7], swapped.Rules()[0])

	// with distinct labels the reorder is visible in the label itself
	rules := []Rule{
		{Pattern: `User User\d+ logged (in|out).`, Label: "login"},
		{Pattern: `Account with ID .* created by .*`, Label: "account"},
	}
	assert.Equal(t, "login", New(MustRuleSet(rules), nil).Classify(text).Label)

	rules[0], rules[1] = rules[1], rules[0]
	assert.Equal(t, "account", New(MustRuleSet(rules), nil).Classify(text).Label)
}

func TestNewRuleSet(t *testing.T) {
	t.Run("InvalidPattern", func(t *testing.T) {
		rs, err := NewRuleSet([]Rule{
			{Pattern: `ok`, Label: "fine"},
			{Pattern: `Backup (started`, Label: "broken"},
		})
		require.Error(t, err)
		assert.Nil(t, rs)

		var cfgErr *ConfigurationError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, 1, cfgErr.Index)
		assert.Equal(t, `Backup (started`, cfgErr.Pattern)

		var syntaxErr *syntax.Error
		assert.True(t, errors.As(err, &syntaxErr))
	})

	t.Run("EmptyLabel", func(t *testing.T) {
		_, err := NewRuleSet([]Rule{{Pattern: `x`, Label: "  "}})
		var cfgErr *ConfigurationError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, 0, cfgErr.Index)
	})

	t.Run("MustPanics", func(t *testing.T) {
		assert.Panics(t, func() { MustRuleSet([]Rule{{Pattern: `(`, Label: "x"}}) })
	})

	t.Run("DuplicatesAllowed", func(t *testing.T) {
		rs, err := NewRuleSet([]Rule{
			{Pattern: `disk`, Label: "first"},
			{Pattern: `disk`, Label: "second"},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, rs.Len())

		c := New(rs, nil)
		assert.Equal(t, "first", c.Classify("Disk full").Label)
	})

	t.Run("RulesIsCopy", func(t *testing.T) {
		rs := MustRuleSet(DefaultRules())
		rules := rs.Rules()
		rules[0].Label = "tampered"
		assert.Equal(t, LabelUserAction, rs.Rules()[0].Label)
	})

	t.Run("Labels", func(t *testing.T) {
		rs := MustRuleSet(DefaultRules())
		assert.Equal(t, []string{LabelUserAction, LabelSystemNotification}, rs.Labels())
	})

	t.Run("Empty", func(t *testing.T) {
		rs, err := NewRuleSet(nil)
		require.NoError(t, err)
		assert.Equal(t, Unmatched, New(rs, nil).Classify("anything"))
	})
}

func TestConcurrentClassify(t *testing.T) {
	c := NewDefault(nil)
	inputs := map[string]string{
		"User User1 logged in.":                LabelUserAction,
		"Backup ended at noon":                 LabelSystemNotification,
		"Account with ID 9 created by root":    LabelUserAction,
		"Disk cleanup completed successfully.": LabelSystemNotification,
		"Hey bro, Chill ya!":                   "",
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				for text, want := range inputs {
					if got := c.Classify(text).Label; got != want {
						t.Errorf("Classify(%q) = %q, want %q", text, got, want)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}
