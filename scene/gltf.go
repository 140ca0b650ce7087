package scene

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/chewxy/math32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// Mesh is a flat triangle soup, centered on the origin and fitted inside the
// unit sphere so any asset frames the same way under the default camera.
type Mesh struct {
	Triangles [][3][3]float32
}

// TriangleCount returns the number of triangles in the mesh.
func (m *Mesh) TriangleCount() int {
	return len(m.Triangles)
}

// DecodeMesh reads a .glb or .gltf (with embedded buffers) document and
// collects the triangles of every mesh primitive. Node transforms are not
// applied; the result is normalized as a whole.
func DecodeMesh(data []byte) (*Mesh, error) {
	doc := gltf.NewDocument()
	if err := gltf.NewDecoder(bytes.NewReader(data)).Decode(doc); err != nil {
		return nil, fmt.Errorf("scene: decode gltf: %w", err)
	}

	mesh := &Mesh{}
	for _, m := range doc.Meshes {
		for _, prim := range m.Primitives {
			if prim.Mode != gltf.PrimitiveTriangles {
				continue
			}
			if err := appendPrimitive(mesh, doc, prim); err != nil {
				return nil, fmt.Errorf("scene: mesh %q: %w", m.Name, err)
			}
		}
	}

	if len(mesh.Triangles) == 0 {
		return nil, errors.New("scene: no triangles found in model")
	}

	mesh.normalize()
	return mesh, nil
}

func appendPrimitive(mesh *Mesh, doc *gltf.Document, prim *gltf.Primitive) error {
	posIdx, ok := prim.Attributes[gltf.POSITION]
	if !ok {
		return errors.New("no POSITION attribute")
	}
	positions, err := modeler.ReadPosition(doc, doc.Accessors[posIdx], nil)
	if err != nil {
		return fmt.Errorf("read positions: %w", err)
	}

	var indices []uint32
	if prim.Indices != nil {
		indices, err = modeler.ReadIndices(doc, doc.Accessors[*prim.Indices], nil)
		if err != nil {
			return fmt.Errorf("read indices: %w", err)
		}
	} else {
		indices = make([]uint32, len(positions))
		for i := range indices {
			indices[i] = uint32(i)
		}
	}

	for i := 0; i+2 < len(indices); i += 3 {
		a, b, c := indices[i], indices[i+1], indices[i+2]
		if int(a) >= len(positions) || int(b) >= len(positions) || int(c) >= len(positions) {
			return fmt.Errorf("index out of range at triangle %d", i/3)
		}
		mesh.Triangles = append(mesh.Triangles, [3][3]float32{positions[a], positions[b], positions[c]})
	}
	return nil
}

func (m *Mesh) normalize() {
	lo := [3]float32{math32.Inf(1), math32.Inf(1), math32.Inf(1)}
	hi := [3]float32{math32.Inf(-1), math32.Inf(-1), math32.Inf(-1)}
	for _, tri := range m.Triangles {
		for _, v := range tri {
			for k := 0; k < 3; k++ {
				lo[k] = math32.Min(lo[k], v[k])
				hi[k] = math32.Max(hi[k], v[k])
			}
		}
	}

	center := [3]float32{(lo[0] + hi[0]) / 2, (lo[1] + hi[1]) / 2, (lo[2] + hi[2]) / 2}
	var radius float32
	for _, tri := range m.Triangles {
		for _, v := range tri {
			dx, dy, dz := v[0]-center[0], v[1]-center[1], v[2]-center[2]
			radius = math32.Max(radius, math32.Sqrt(dx*dx+dy*dy+dz*dz))
		}
	}
	if radius == 0 {
		radius = 1
	}

	for i := range m.Triangles {
		for j := range m.Triangles[i] {
			for k := 0; k < 3; k++ {
				m.Triangles[i][j][k] = (m.Triangles[i][j][k] - center[k]) / radius
			}
		}
	}
}
