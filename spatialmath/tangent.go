package spatialmath

import (
	"github.com/golang/geo/r3"
)

// Tangent is a 6-vector on the pose manifold, rotation first: (ωx, ωy, ωz, vx, vy, vz).
type Tangent [6]float64

// Rotation returns the rotation part.
func (t Tangent) Rotation() r3.Vector {
	return r3.Vector{X: t[0], Y: t[1], Z: t[2]}
}

// Translation returns the translation part.
func (t Tangent) Translation() r3.Vector {
	return r3.Vector{X: t[3], Y: t[4], Z: t[5]}
}

// NewTangent assembles a tangent vector from its rotation and translation parts.
func NewTangent(rot, trans r3.Vector) Tangent {
	return Tangent{rot.X, rot.Y, rot.Z, trans.X, trans.Y, trans.Z}
}

// Retract moves p along the tangent vector xi expressed in p's own frame:
// p ⊕ xi = p·(Exp(ω), v).
func Retract(p Pose, xi Tangent) Pose {
	return Compose(p, newPoseFromRotation(ExpSO3(xi.Rotation()), xi.Translation()))
}

// Local is the inverse of Retract: the tangent vector xi such that Retract(a, xi) == b.
func Local(a, b Pose) Tangent {
	d := PoseBetween(a, b)
	return NewTangent(LogSO3(d.Rotation()), d.Point())
}
