// Copyright 2025-2026 The Ember Authors. SPDX-License-Identifier: Apache-2.0

// Package bundle reads and writes compiled function bundles, the deployable
// artifact produced by Backend.SaveBundle.
//
// A bundle is two files under one directory:
//
//   - <networkName>.json: the Metadata: backend and function names, input and
//     output placeholders, a human-readable program listing and the directory
//     of weights stored in the data file.
//   - <networkName>.weights: the concatenated raw flat data of every weight,
//     in the order and at the byte positions the metadata directory records.
//
// Both files are written through unique temporary names and renamed into
// place, so a crashed writer never leaves a half-written bundle behind: the
// metadata file is renamed last and is the commit point.
package bundle

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/emberml/ember/types/shapes"
	"github.com/emberml/ember/types/tensors"
	"github.com/google/uuid"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

const (
	// MetadataSuffix is appended to the network name for the metadata file.
	MetadataSuffix = ".json"

	// WeightsSuffix is appended to the network name for the raw data file.
	WeightsSuffix = ".weights"

	// DirPermMode is used when creating the output directory.
	DirPermMode = os.FileMode(0770)
)

// TensorInfo describes one tensor of the bundle: a placeholder (inputs and
// outputs, with Pos and Length zero) or a weight stored in the weights file.
type TensorInfo struct {
	Name       string `json:"name"`
	DTypeName  string `json:"dtype"`
	Dimensions []int  `json:"shape"`

	// Pos and Length locate a weight's raw data in the weights file.
	Pos    int64 `json:"pos,omitempty"`
	Length int64 `json:"length,omitempty"`
}

// DType parses the dtype name into an actual dtype.
// It returns dtypes.InvalidDType for unknown names.
func (t *TensorInfo) DType() dtypes.DType {
	dtype, found := dtypes.MapOfNames[t.DTypeName]
	if !found {
		dtype = dtypes.InvalidDType
	}
	return dtype
}

// Shape returns the tensor's shape. Invalid if the dtype name is unknown.
func (t *TensorInfo) Shape() shapes.Shape {
	if t.DType() == dtypes.InvalidDType {
		return shapes.Invalid()
	}
	return shapes.Make(t.DType(), t.Dimensions...)
}

// NewTensorInfo builds the TensorInfo for a name and shape.
func NewTensorInfo(name string, shape shapes.Shape) TensorInfo {
	return TensorInfo{
		Name:       name,
		DTypeName:  shape.DType.String(),
		Dimensions: shape.Dimensions,
	}
}

// Metadata is the content of the bundle's json file.
type Metadata struct {
	// Backend is the short name of the backend that compiled the bundle.
	Backend string `json:"backend"`

	// Function is the name of the compiled function.
	Function string `json:"function"`

	// Inputs and Outputs are the function's placeholders, in execution order.
	Inputs  []TensorInfo `json:"inputs"`
	Outputs []TensorInfo `json:"outputs"`

	// Program is a human-readable listing of the compiled instructions.
	Program []string `json:"program"`

	// Weights is the directory of the weights file. Write fills Pos and
	// Length.
	Weights []TensorInfo `json:"weights"`

	// Extras holds backend-specific notes, e.g. an execution plan summary.
	Extras map[string]string `json:"extras,omitempty"`
}

// Weight pairs a metadata name with the tensor to store.
type Weight struct {
	Name   string
	Tensor *tensors.Tensor
}

// Bundle is a compiled function bundle loaded back from disk.
type Bundle struct {
	Metadata Metadata

	// Weights are the loaded tensors, parallel to Metadata.Weights.
	Weights []*tensors.Tensor
}

// Write stores a bundle under outputDir, creating the directory if needed.
// The weights' TensorInfo entries of the metadata are rebuilt from weights,
// positions and lengths included, so callers only fill the other fields.
func Write(outputDir, networkName string, metadata Metadata, weights []Weight) error {
	if networkName == "" {
		return errors.New("bundle.Write: networkName cannot be empty")
	}
	if err := os.MkdirAll(outputDir, DirPermMode); err != nil {
		return errors.Wrapf(err, "bundle.Write: trying to create dir %q", outputDir)
	}

	// Weights data file first: it only commits with the metadata rename below.
	metadata.Weights = make([]TensorInfo, 0, len(weights))
	weightsFileName := filepath.Join(outputDir, networkName+WeightsSuffix)
	tmpWeightsName := weightsFileName + ".tmp-" + uuid.NewString()
	weightsFile, err := os.Create(tmpWeightsName)
	if err != nil {
		return errors.Wrapf(err, "bundle.Write: failed to create weights file %s", tmpWeightsName)
	}
	var pos int64
	for _, w := range weights {
		if w.Name == "" || w.Tensor == nil {
			weightsFile.Close()
			os.Remove(tmpWeightsName)
			return errors.Errorf("bundle.Write: weight with empty name or nil tensor (name=%q)", w.Name)
		}
		if _, err := w.Tensor.WriteRaw(weightsFile); err != nil {
			weightsFile.Close()
			os.Remove(tmpWeightsName)
			return errors.WithMessagef(err, "bundle.Write: failed to write weight %q", w.Name)
		}
		info := NewTensorInfo(w.Name, w.Tensor.Shape())
		info.Pos = pos
		info.Length = int64(w.Tensor.Memory())
		pos += info.Length
		metadata.Weights = append(metadata.Weights, info)
	}
	if err := weightsFile.Close(); err != nil {
		os.Remove(tmpWeightsName)
		return errors.Wrapf(err, "bundle.Write: failed to close weights file %s", tmpWeightsName)
	}

	// Metadata file.
	metadataFileName := filepath.Join(outputDir, networkName+MetadataSuffix)
	tmpMetadataName := metadataFileName + ".tmp-" + uuid.NewString()
	metadataFile, err := os.Create(tmpMetadataName)
	if err != nil {
		os.Remove(tmpWeightsName)
		return errors.Wrapf(err, "bundle.Write: failed to create metadata file %s", tmpMetadataName)
	}
	enc := json.NewEncoder(metadataFile)
	enc.SetIndent("", "\t")
	if err := enc.Encode(&metadata); err != nil {
		metadataFile.Close()
		os.Remove(tmpWeightsName)
		os.Remove(tmpMetadataName)
		return errors.Wrapf(err, "bundle.Write: failed to encode metadata file %s", tmpMetadataName)
	}
	if err := metadataFile.Close(); err != nil {
		os.Remove(tmpWeightsName)
		os.Remove(tmpMetadataName)
		return errors.Wrapf(err, "bundle.Write: failed to close metadata file %s", tmpMetadataName)
	}

	// Rename into place, metadata last: its presence commits the bundle.
	if err := os.Rename(tmpWeightsName, weightsFileName); err != nil {
		os.Remove(tmpWeightsName)
		os.Remove(tmpMetadataName)
		return errors.Wrapf(err, "bundle.Write: failed to rename weights file into %s", weightsFileName)
	}
	if err := os.Rename(tmpMetadataName, metadataFileName); err != nil {
		os.Remove(tmpMetadataName)
		return errors.Wrapf(err, "bundle.Write: failed to rename metadata file into %s", metadataFileName)
	}
	return nil
}

// Read loads the bundle named networkName from dir: the metadata and every
// weight tensor.
func Read(dir, networkName string) (*Bundle, error) {
	metadataFileName := filepath.Join(dir, networkName+MetadataSuffix)
	metadataFile, err := os.Open(metadataFileName)
	if err != nil {
		return nil, errors.Wrapf(err, "bundle.Read: failed to open metadata file %s", metadataFileName)
	}
	defer metadataFile.Close()
	b := &Bundle{}
	dec := json.NewDecoder(metadataFile)
	if err := dec.Decode(&b.Metadata); err != nil {
		return nil, errors.Wrapf(err, "bundle.Read: failed to decode metadata file %s", metadataFileName)
	}

	if len(b.Metadata.Weights) == 0 {
		return b, nil
	}
	weightsFileName := filepath.Join(dir, networkName+WeightsSuffix)
	weightsFile, err := os.Open(weightsFileName)
	if err != nil {
		return nil, errors.Wrapf(err, "bundle.Read: failed to open weights file %s", weightsFileName)
	}
	defer weightsFile.Close()
	b.Weights = make([]*tensors.Tensor, 0, len(b.Metadata.Weights))
	for _, info := range b.Metadata.Weights {
		shape := info.Shape()
		if !shape.Ok() {
			return nil, errors.Errorf("bundle.Read: weight %q has invalid dtype %q or dimensions %v",
				info.Name, info.DTypeName, info.Dimensions)
		}
		if got := int64(shape.Memory()); got != info.Length {
			return nil, errors.Errorf("bundle.Read: weight %q shape %s takes %d bytes, directory says %d",
				info.Name, shape, got, info.Length)
		}
		if _, err := weightsFile.Seek(info.Pos, io.SeekStart); err != nil {
			return nil, errors.Wrapf(err, "bundle.Read: failed to seek to weight %q at position %d",
				info.Name, info.Pos)
		}
		t, err := tensors.ReadRaw(weightsFile, shape)
		if err != nil {
			return nil, errors.WithMessagef(err, "bundle.Read: failed to read weight %q from %s",
				info.Name, weightsFileName)
		}
		b.Weights = append(b.Weights, t)
	}
	return b, nil
}
