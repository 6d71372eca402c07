// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package convergence_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/precice-go/cplcore/config"
	"github.com/precice-go/cplcore/convergence"
	"github.com/precice-go/cplcore/coupling"
)

func TestAbsoluteMeasure(t *testing.T) {
	require := require.New(t)
	m := convergence.NewAbsolute(0.5)
	passed, err := m.Evaluate([]float64{0, 0}, []float64{0.1, 0.1}, 1)
	require.NoError(err)
	require.True(passed)

	passed, err = m.Evaluate([]float64{0, 0}, []float64{10, 10}, 1)
	require.NoError(err)
	require.False(passed)
}

func TestRelativeMeasure(t *testing.T) {
	require := require.New(t)
	m := convergence.NewRelative(0.1)
	passed, err := m.Evaluate([]float64{10, 0}, []float64{10.05, 0}, 1)
	require.NoError(err)
	require.True(passed)
}

func TestResidualRelativeMeasureUsesFirstIteration(t *testing.T) {
	require := require.New(t)
	m := convergence.NewResidualRelative(0.5)

	passed, err := m.Evaluate([]float64{0}, []float64{10}, 1)
	require.NoError(err)
	require.False(passed) // 10/10 == 1, not < 0.5

	passed, err = m.Evaluate([]float64{10}, []float64{14}, 2)
	require.NoError(err)
	require.True(passed) // 4/10 == 0.4 < 0.5

	m.Reset()
	passed, err = m.Evaluate([]float64{0}, []float64{1}, 1)
	require.NoError(err)
	require.False(passed) // new first-iteration residual resets the baseline
}

func TestMinIterationsMeasure(t *testing.T) {
	require := require.New(t)
	m := convergence.NewMinIterations(3)
	passed, err := m.Evaluate(nil, nil, 2)
	require.NoError(err)
	require.False(passed)

	passed, err = m.Evaluate(nil, nil, 3)
	require.NoError(err)
	require.True(passed)
}

func TestEvaluateLengthMismatch(t *testing.T) {
	m := convergence.NewAbsolute(0.1)
	_, err := m.Evaluate([]float64{1}, []float64{1, 2}, 1)
	require.Error(t, err)
}

func TestSetCombinationAllRequiredAndOneSuffices(t *testing.T) {
	require := require.New(t)
	s := convergence.NewSet()
	s.Add(convergence.Entry{DataID: "temperature", Measure: convergence.NewAbsolute(1.0), Suffices: false})
	s.Add(convergence.Entry{DataID: "pressure", Measure: convergence.NewAbsolute(1.0), Suffices: true})

	values := map[coupling.DataID][2][]float64{
		"temperature": {{0}, {0.5}}, // passes the required measure
		"pressure":    {{0}, {5}},   // fails the suffices measure
	}
	passed, err := s.Evaluate(values, 1)
	require.NoError(err)
	require.False(passed) // required passes but no suffices measure passed

	values["pressure"] = [2][]float64{{0}, {0.2}}
	passed, err = s.Evaluate(values, 1)
	require.NoError(err)
	require.True(passed)
}

func TestSetCombinationNoSufficesMeasures(t *testing.T) {
	require := require.New(t)
	s := convergence.NewSet()
	s.Add(convergence.Entry{DataID: "temperature", Measure: convergence.NewAbsolute(1.0), Suffices: false})

	values := map[coupling.DataID][2][]float64{
		"temperature": {{0}, {0.1}},
	}
	passed, err := s.Evaluate(values, 1)
	require.NoError(err)
	require.True(passed)
}

func TestSetEvaluateMissingField(t *testing.T) {
	s := convergence.NewSet()
	s.Add(convergence.Entry{DataID: "temperature", Measure: convergence.NewAbsolute(1.0)})
	_, err := s.Evaluate(map[coupling.DataID][2][]float64{}, 1)
	require.Error(t, err)
}

// TestNewFromConfig builds each measure kind from its configuration entry
// and rejects an unknown kind.
func TestNewFromConfig(t *testing.T) {
	require := require.New(t)

	abs, err := convergence.New(config.ConvergenceMeasureConfig{Measure: config.MeasureAbsolute, Limit: 0.5})
	require.NoError(err)
	passed, err := abs.Evaluate([]float64{0}, []float64{0.1}, 1)
	require.NoError(err)
	require.True(passed)

	rel, err := convergence.New(config.ConvergenceMeasureConfig{Measure: config.MeasureRelative, Limit: 0.1})
	require.NoError(err)
	passed, err = rel.Evaluate([]float64{10}, []float64{10.05}, 1)
	require.NoError(err)
	require.True(passed)

	minIter, err := convergence.New(config.ConvergenceMeasureConfig{Measure: config.MeasureMinIterations, MinIterations: 3})
	require.NoError(err)
	passed, err = minIter.Evaluate(nil, nil, 3)
	require.NoError(err)
	require.True(passed)

	_, err = convergence.New(config.ConvergenceMeasureConfig{Measure: config.MeasureType(99)})
	require.Error(err)
}
