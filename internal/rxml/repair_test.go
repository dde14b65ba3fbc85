package rxml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeInvalidLT_EscapesBareAmpersand(t *testing.T) {
	ctx := &RepairContext{Source: "<msg>Fish & chips</msg>"}
	require.NoError(t, escapeInvalidLT(ctx))
	assert.Equal(t, "<msg>Fish &amp; chips</msg>", ctx.Source)
}

func TestEscapeInvalidLT_LeavesWellFormedEntitiesAlone(t *testing.T) {
	ctx := &RepairContext{Source: "<msg>Fish &amp; chips &lt;3</msg>"}
	require.NoError(t, escapeInvalidLT(ctx))
	assert.Equal(t, "<msg>Fish &amp; chips &lt;3</msg>", ctx.Source)
}

func TestNormalizeCloseTags_CollapsesImmediateDuplicate(t *testing.T) {
	ctx := &RepairContext{Source: "<a>x</a></a>"}
	require.NoError(t, normalizeCloseTags(ctx))
	assert.Equal(t, "<a>x</a>", ctx.Source)
}

func TestStripMarkdownFence_RemovesLeadingAndTrailingFence(t *testing.T) {
	ctx := &RepairContext{Source: "```xml\n<a>x</a>\n```"}
	require.NoError(t, stripMarkdownFence(ctx))
	assert.Equal(t, "<a>x</a>", ctx.Source)
}

func TestStripMarkdownFence_NoFenceIsNoop(t *testing.T) {
	ctx := &RepairContext{Source: "<a>x</a>"}
	require.NoError(t, stripMarkdownFence(ctx))
	assert.Equal(t, "<a>x</a>", ctx.Source)
}

func TestCloseUnclosedRoot_AppendsMissingClosingTag(t *testing.T) {
	ctx := &RepairContext{Source: "<get_weather><city>Oslo</city>"}
	require.NoError(t, closeUnclosedRoot(ctx))
	assert.Equal(t, "<get_weather><city>Oslo</city></get_weather>", ctx.Source)
}

func TestCloseUnclosedRoot_AlreadyClosedIsNoop(t *testing.T) {
	ctx := &RepairContext{Source: "<a>x</a>"}
	require.NoError(t, closeUnclosedRoot(ctx))
	assert.Equal(t, "<a>x</a>", ctx.Source)
}

func TestCloseUnclosedRoot_NoTagIsNoop(t *testing.T) {
	ctx := &RepairContext{Source: "no tags here"}
	require.NoError(t, closeUnclosedRoot(ctx))
	assert.Equal(t, "no tags here", ctx.Source)
}

func TestEngine_Run_EmptySourceReturnsError(t *testing.T) {
	e := DefaultEngine()
	root, err := e.Run(Options{})
	// Run starts from an empty source, which has no element.
	_ = root
	assert.Error(t, err)
}

func TestEngine_FenceStripThenTokenizeRecoversUnclosedRoot(t *testing.T) {
	e := &Engine{
		Heuristics: []Heuristic{
			{Name: "strip-markdown-fence", Phase: PhasePreParse, Apply: stripMarkdownFence},
			{Name: "close-unclosed-root", Phase: PhaseFallback, Apply: closeUnclosedRoot},
		},
		MaxReparses: 2,
	}

	ctx := &RepairContext{Source: "```xml\n<get_weather><city>Lyon</city>\n```"}
	for _, h := range e.phaseHeuristics(PhasePreParse) {
		require.NoError(t, h.Apply(ctx))
	}

	root, err := Tokenize([]byte(ctx.Source), Options{})
	attempts := 0
	for (err != nil || root == nil) && attempts < e.MaxReparses {
		attempts++
		for _, h := range e.phaseHeuristics(PhaseFallback) {
			require.NoError(t, h.Apply(ctx))
		}
		root, err = Tokenize([]byte(ctx.Source), Options{})
	}

	require.NoError(t, err)
	require.NotNil(t, root)
	assert.Equal(t, "get_weather", root.TagName)
	assert.Equal(t, "Lyon", root.Child("city").Text())
}

func TestEngine_Run_BoundedByMaxReparses(t *testing.T) {
	calls := 0
	noopNeverProgresses := Heuristic{
		Name:  "noop",
		Phase: PhaseFallback,
		Apply: func(ctx *RepairContext) error {
			calls++
			return nil
		},
	}
	e := &Engine{Heuristics: []Heuristic{noopNeverProgresses}, MaxReparses: 2}

	_, err := e.Run(Options{})
	assert.Error(t, err)
	// source never changes, so the loop should break after the first no-progress
	// iteration rather than spin MaxReparses times.
	assert.Equal(t, 1, calls)
}
