package cli

// Tree drawing characters
const (
	TreeBranch     = "├─"
	TreeLastBranch = "└─"
)

// Status indicators
const (
	CheckMark = "✓"
	CrossMark = "✗"
	Bullet    = "●"
	Circle    = "○"
	ArrowUp   = "↑"
)

// Patchset type glyphs
const (
	ShapeProposal    = "◇"
	ShapeFastForward = "↑"
	ShapeRewrite     = "◆"
)
