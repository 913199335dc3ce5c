package render

// Theme holds colors for call graph rendering.
type Theme struct {
	Background string
	NodeFill   string
	NodeBorder string
	TextColor  string

	EdgeDirect string // jal/bal
	EntryColor string // border of root and entry nodes

	// Node accents.
	FrameFill string // subroutines with a stack frame
}

// NASA is the NASA/Bauhaus theme: geometric, monochrome, sparse color.
var NASA = Theme{
	Background: "#F5F5F5",
	NodeFill:   "white",
	NodeBorder: "#1A1A1A",
	TextColor:  "#1A1A1A",

	EdgeDirect: "#424242", // dark gray
	EntryColor: "#0B3D91", // NASA blue

	FrameFill: "#ECEFF1", // blue-gray 50
}
