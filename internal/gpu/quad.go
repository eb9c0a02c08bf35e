package gpu

import (
	"fmt"
	"strings"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/mathgl/mgl32"
)

const quadVertexShader = `#version 330 core
layout (location = 0) in vec3 aPos;
layout (location = 1) in vec3 aColor;
layout (location = 2) in vec2 aTexCoord;
uniform mat4 model;
uniform mat4 view;
uniform mat4 projection;
out vec3 ourColor;
out vec2 TexCoord;
void main()
{
	gl_Position = projection * view * model * vec4(aPos, 1.0);
	ourColor = aColor;
	TexCoord = aTexCoord;
}
` + "\x00"

const quadFragmentShader = `#version 330 core
out vec4 FragColor;
in vec3 ourColor;
in vec2 TexCoord;
uniform sampler2D texture1;
void main()
{
	FragColor = texture(texture1, TexCoord);
}
` + "\x00"

// Vertex layout shared with the player geometry: xyz, rgb, uv.
const (
	floatsPerVertex = 8
	vertexStride    = floatsPerVertex * 4
	colorOffset     = 3 * 4
	uvOffset        = 6 * 4
)

// Quad draws the video texture on a centered rectangle with an orthographic
// camera. Consumer thread only.
type Quad struct {
	program uint32
	vao     uint32
	vbo     uint32
	ebo     uint32
	count   int32
	version uint64

	locModel      int32
	locView       int32
	locProjection int32
}

// NewQuad compiles the program and creates the vertex objects.
func NewQuad() (*Quad, error) {
	program, err := newProgram(quadVertexShader, quadFragmentShader)
	if err != nil {
		return nil, err
	}

	q := &Quad{program: program}
	q.locModel = gl.GetUniformLocation(program, gl.Str("model\x00"))
	q.locView = gl.GetUniformLocation(program, gl.Str("view\x00"))
	q.locProjection = gl.GetUniformLocation(program, gl.Str("projection\x00"))

	gl.GenVertexArrays(1, &q.vao)
	gl.GenBuffers(1, &q.vbo)
	gl.GenBuffers(1, &q.ebo)

	gl.BindVertexArray(q.vao)
	gl.BindBuffer(gl.ARRAY_BUFFER, q.vbo)
	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, q.ebo)
	gl.VertexAttribPointerWithOffset(0, 3, gl.FLOAT, false, vertexStride, 0)
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointerWithOffset(1, 3, gl.FLOAT, false, vertexStride, colorOffset)
	gl.EnableVertexAttribArray(1)
	gl.VertexAttribPointerWithOffset(2, 2, gl.FLOAT, false, vertexStride, uvOffset)
	gl.EnableVertexAttribArray(2)
	gl.BindVertexArray(0)

	gl.UseProgram(program)
	gl.Uniform1i(gl.GetUniformLocation(program, gl.Str("texture1\x00")), 0)
	model := mgl32.Ident4()
	gl.UniformMatrix4fv(q.locModel, 1, false, &model[0])
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 500}, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 1, 0})
	gl.UniformMatrix4fv(q.locView, 1, false, &view[0])
	gl.UseProgram(0)

	return q, nil
}

// SetGeometry uploads vertices and indices when version changed.
func (q *Quad) SetGeometry(version uint64, vertices []float32, indices []uint32) {
	if version == q.version && q.count > 0 {
		return
	}
	q.version = version
	if len(vertices) == 0 || len(indices) == 0 {
		q.count = 0
		return
	}

	gl.BindVertexArray(q.vao)
	gl.BindBuffer(gl.ARRAY_BUFFER, q.vbo)
	gl.BufferData(gl.ARRAY_BUFFER, len(vertices)*4, gl.Ptr(vertices), gl.STATIC_DRAW)
	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, q.ebo)
	gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, len(indices)*4, gl.Ptr(indices), gl.STATIC_DRAW)
	gl.BindVertexArray(0)

	q.count = int32(len(indices))
}

// SetViewport sets a centered orthographic projection over width x height.
func (q *Quad) SetViewport(width, height int) {
	w, h := float32(width), float32(height)
	projection := mgl32.Ortho(-w/2, w/2, -h/2, h/2, 0.1, 1000)

	gl.UseProgram(q.program)
	gl.UniformMatrix4fv(q.locProjection, 1, false, &projection[0])
	gl.UseProgram(0)
	gl.Viewport(0, 0, int32(width), int32(height))
}

// Draw renders the quad sampling texture. No-op without geometry.
func (q *Quad) Draw(texture uint32) {
	if q.count == 0 || texture == 0 {
		return
	}
	gl.UseProgram(q.program)
	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindTexture(gl.TEXTURE_2D, texture)
	gl.BindVertexArray(q.vao)
	gl.DrawElementsWithOffset(gl.TRIANGLES, q.count, gl.UNSIGNED_INT, 0)
	gl.BindVertexArray(0)
	gl.BindTexture(gl.TEXTURE_2D, 0)
}

// Destroy frees the program and buffers.
func (q *Quad) Destroy() {
	gl.DeleteVertexArrays(1, &q.vao)
	gl.DeleteBuffers(1, &q.vbo)
	gl.DeleteBuffers(1, &q.ebo)
	gl.DeleteProgram(q.program)
}

func newProgram(vertexSource, fragmentSource string) (uint32, error) {
	vs, err := compileShader(vertexSource, gl.VERTEX_SHADER)
	if err != nil {
		return 0, fmt.Errorf("gpu: vertex shader: %w", err)
	}
	defer gl.DeleteShader(vs)

	fs, err := compileShader(fragmentSource, gl.FRAGMENT_SHADER)
	if err != nil {
		return 0, fmt.Errorf("gpu: fragment shader: %w", err)
	}
	defer gl.DeleteShader(fs)

	program := gl.CreateProgram()
	gl.AttachShader(program, vs)
	gl.AttachShader(program, fs)
	gl.LinkProgram(program)

	var status int32
	gl.GetProgramiv(program, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetProgramiv(program, gl.INFO_LOG_LENGTH, &logLength)
		log := strings.Repeat("\x00", int(logLength+1))
		gl.GetProgramInfoLog(program, logLength, nil, gl.Str(log))
		gl.DeleteProgram(program)
		return 0, fmt.Errorf("gpu: link program: %s", log)
	}
	return program, nil
}

func compileShader(source string, shaderType uint32) (uint32, error) {
	shader := gl.CreateShader(shaderType)
	csources, free := gl.Strs(source)
	gl.ShaderSource(shader, 1, csources, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLength)
		log := strings.Repeat("\x00", int(logLength+1))
		gl.GetShaderInfoLog(shader, logLength, nil, gl.Str(log))
		gl.DeleteShader(shader)
		return 0, fmt.Errorf("compile: %s", log)
	}
	return shader, nil
}
