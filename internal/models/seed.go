package models

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// ModelType is the CIFTI model type tag attached to a seed.
type ModelType string

const (
	// ModelTypeSurface marks a seed that references a surface vertex.
	ModelTypeSurface ModelType = "CIFTI_MODEL_TYPE_SURFACE"

	// ModelTypeVoxels marks a seed that references a voxel.
	ModelTypeVoxels ModelType = "CIFTI_MODEL_TYPE_VOXELS"
)

// SeedInfo carries the provenance metadata of a seed
type SeedInfo struct {
	// ModelType is the CIFTI model type of the seed
	ModelType ModelType `yaml:"model_type"`

	// Structure is the CIFTI brain structure name, e.g. CIFTI_STRUCTURE_CORTEX_LEFT
	Structure string `yaml:"structure"`

	// Coord is the voxel index or the surface vertex the seed refers to
	Coord []float64 `yaml:"coord"`

	// Size is the number of vertices of the surface, only set for surface seeds
	Size int `yaml:"size,omitempty"`
}

// IsSurface reports whether the seed references a surface vertex.
func (s SeedInfo) IsSurface() bool {
	return s.ModelType == ModelTypeSurface
}

// Streamline is an ordered sequence of points along a fiber pathway.
type Streamline []r3.Vec
