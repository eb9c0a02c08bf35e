package videosurface

// Vertex layout of Geometry.Vertices: position xyz, color rgb, uv.
const (
	VertexFloats   = 8
	VertexStride   = VertexFloats * 4
	PositionOffset = 0
	ColorOffset    = 3 * 4
	UVOffset       = 6 * 4
)

// quadIndices draws the quad as two triangles.
var quadIndices = []uint32{
	0, 1, 3,
	1, 2, 3,
}

// Geometry is the textured quad the video is drawn on, centered on the
// origin and sized in pixels.
type Geometry struct {
	Size     Size
	Vertices []float32
	Indices  []uint32
	// Version changes on every rebuild so renderers know to re-upload.
	Version uint64
}

// Empty reports whether there is nothing to draw.
func (g Geometry) Empty() bool {
	return len(g.Vertices) == 0
}

// FitSize scales src to the largest size fitting in target with the same
// aspect ratio. Zero when either is empty.
func FitSize(src, target Size) Size {
	return src.Fit(target)
}

// NewGeometry builds the quad for a video of the given on-screen size.
// Texture coordinates put (1,1) at the top right.
func NewGeometry(video Size) Geometry {
	if video.Empty() {
		return Geometry{}
	}
	w := float32(video.Width) / 2
	h := float32(video.Height) / 2

	return Geometry{
		Size: video,
		Vertices: []float32{
			// position     color          uv
			w, h, 0, 1, 0, 0, 1, 1, // top right
			w, -h, 0, 0, 1, 0, 1, 0, // bottom right
			-w, -h, 0, 0, 0, 1, 0, 0, // bottom left
			-w, h, 0, 1, 1, 0, 0, 1, // top left
		},
		Indices: append([]uint32(nil), quadIndices...),
	}
}
