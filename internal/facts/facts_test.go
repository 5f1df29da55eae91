package facts

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/brief/internal/errors"
)

const sampleYAML = `
rules:
  - name: tests
    text: Run the test suite before handing off.
    priority: 10
  - name: review-notes
    text: Leave a summary for the reviewer.
    priority: 2
    roles: [implementer]
tech_stack:
  - name: language
    text: Go 1.25
    priority: 5
`

func TestParse(t *testing.T) {
	list, err := Parse([]byte(sampleYAML), "facts.yaml")
	require.NoError(t, err)
	require.Len(t, list, 3)

	assert.Equal(t, KindRule, list[0].Kind)
	assert.Equal(t, "tests", list[0].Name)
	assert.Equal(t, KindTechStack, list[2].Kind)
	assert.Equal(t, []string{"implementer"}, list[1].Roles)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("rules: [oops"), "bad.yaml")
	assert.True(t, errors.Is(err, errors.ErrMalformed))

	_, err = Parse([]byte("rules:\n  - name: x\n"), "notext.yaml")
	assert.True(t, errors.Is(err, errors.ErrMalformed))
}

func TestFileProvider(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/repo/.brief/facts.yaml", []byte(sampleYAML), 0o644))
	p := NewFileProvider(fs, "/repo/.brief/facts.yaml", "/repo/.brief/missing.yaml")

	list, err := p.Facts(context.Background(), Scope{Role: "planner"})
	require.NoError(t, err)
	assert.Len(t, list, 2, "role-scoped fact filtered out")

	list, err = p.Facts(context.Background(), Scope{Role: "implementer"})
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestSort(t *testing.T) {
	list := []Fact{
		{Name: "b", Kind: KindRule, Priority: 1},
		{Name: "a", Kind: KindTechStack, Priority: 1},
		{Name: "z", Kind: KindRule, Priority: 9},
		{Name: "a", Kind: KindRule, Priority: 1},
	}
	Sort(list)

	var got []string
	for _, f := range list {
		got = append(got, string(f.Kind)+"/"+f.Name)
	}
	assert.Equal(t, []string{"rule/z", "rule/a", "rule/b", "tech_stack/a"}, got)
}

func TestFit_StrictPrefix(t *testing.T) {
	list := []Fact{
		{Name: "high", Text: strings.Repeat("x ", 5)},
		{Name: "big", Text: strings.Repeat("x ", 50)},
		{Name: "tiny", Text: "x"},
	}
	cost := func(f Fact) int { return len(strings.Fields(f.Text)) }

	kept, dropped := Fit(list, 10, cost)

	// tiny would fit, but it ranks below big.
	require.Len(t, kept, 1)
	assert.Equal(t, "high", kept[0].Name)
	assert.Len(t, dropped, 2)

	kept, dropped = Fit(list, 1000, cost)
	assert.Len(t, kept, 3)
	assert.Empty(t, dropped)
}

type slowProvider struct{}

func (slowProvider) Name() string { return "slow" }

func (slowProvider) Facts(context.Context, Scope) ([]Fact, error) {
	time.Sleep(2 * time.Second)
	return []Fact{{Name: "late", Text: "never seen"}}, nil
}

type brokenProvider struct{}

func (brokenProvider) Name() string { return "broken" }

func (brokenProvider) Facts(context.Context, Scope) ([]Fact, error) {
	return nil, stderrors.New("connection refused")
}

func TestGather(t *testing.T) {
	providers := []Provider{
		Static{Label: "defaults", List: []Fact{
			{Name: "tests", Kind: KindRule, Text: "low copy", Priority: 1},
			{Name: "lint", Kind: KindRule, Text: "run the linter", Priority: 3},
		}},
		Static{List: []Fact{
			{Name: "Tests", Kind: KindRule, Text: "high copy", Priority: 8},
		}},
		slowProvider{},
		brokenProvider{},
	}

	start := time.Now()
	list, warnings := Gather(context.Background(), providers, Scope{}, 50*time.Millisecond)

	assert.Less(t, time.Since(start), time.Second, "slow provider must not stall")
	require.Len(t, list, 2)
	assert.Equal(t, "high copy", list[0].Text)
	assert.Equal(t, "lint", list[1].Name)

	require.Len(t, warnings, 2)
	joined := strings.Join(warnings, "\n")
	assert.Contains(t, joined, "slow")
	assert.Contains(t, joined, "broken")
}
