// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package cplscheme_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/precice-go/cplcore"
	"github.com/precice-go/cplcore/config"
	"github.com/precice-go/cplcore/coupling"
	"github.com/precice-go/cplcore/cplscheme"
	"github.com/precice-go/cplcore/m2n"
)

// registryFor builds one participant's coupling data registry for the
// two-field serial fixture: A sends Forces to B, B sends Ack to A.
func registryFor(t *testing.T, self string) *coupling.Registry {
	t.Helper()
	reg := coupling.NewRegistry()
	forcesDir, ackDir := coupling.Sent, coupling.Received
	if self == "B" {
		forcesDir, ackDir = coupling.Received, coupling.Sent
	}
	forces, err := coupling.New("Forces", "Surface", 1, forcesDir, 3, 1)
	require.NoError(t, err)
	ack, err := coupling.New("Ack", "Surface", 1, ackDir, 3, 1)
	require.NoError(t, err)
	reg.Add(forces)
	reg.Add(ack)
	return reg
}

func serialImplicitConfig() config.SchemeConfig {
	return config.SchemeConfig{
		Type:           config.SerialImplicit,
		MaxTimesteps:   1,
		TimestepLength: 1,
		MaxIterations:  10,
		Participants:   []string{"A", "B"},
		Exchanges: []config.DataExchangeConfig{
			{DataName: "Forces", MeshName: "Surface", From: "A", To: "B"},
			{DataName: "Ack", MeshName: "Surface", From: "B", To: "A"},
		},
		ConvergenceMeasures: []config.ConvergenceMeasureConfig{
			{DataName: "Forces", Measure: config.MeasureMinIterations, MinIterations: 1},
		},
		Acceleration: &config.AccelerationConfig{
			Type:              config.AccelerationConstant,
			InitialRelaxation: 1,
			MaxUsedIterations: 1,
			Preconditioner:    config.PreconditionerConstant,
			ConstantFactors:   map[string]float64{"Forces": 1, "Ack": 1},
		},
	}
}

// TestNewSchemeSerialImplicitFromConfig builds both sides of a serial
// implicit scheme entirely from the validated configuration surface and
// drives one converging step through them.
func TestNewSchemeSerialImplicitFromConfig(t *testing.T) {
	chA, chB := wireM2N(t, "factory")
	cfg := serialImplicitConfig()

	regA := registryFor(t, "A")
	regB := registryFor(t, "B")
	forcesOnA, _ := regA.Get("Forces")
	require.NoError(t, forcesOnA.SetValues([]float64{1, 2, 3}))
	ackOnB, _ := regB.Get("Ack")
	require.NoError(t, ackOnB.SetValues([]float64{9, 8, 7}))

	schemeA, err := cplscheme.NewScheme(cfg, "A", cplscheme.Deps{
		Registry: regA, Channels: map[string]m2n.M2N{"B": chA},
	})
	require.NoError(t, err)
	schemeB, err := cplscheme.NewScheme(cfg, "B", cplscheme.Deps{
		Registry: regB, Channels: map[string]m2n.M2N{"A": chB},
	})
	require.NoError(t, err)

	require.NoError(t, schemeA.Initialize(0, 0))
	require.NoError(t, schemeB.Initialize(0, 0))

	_, _, errA, errB := runAdvance(t, schemeA, schemeB)
	require.NoError(t, errA)
	require.NoError(t, errB)

	forcesOnB, _ := regB.Get("Forces")
	ackOnA, _ := regA.Get("Ack")
	require.Equal(t, []float64{1, 2, 3}, forcesOnB.Values())
	require.Equal(t, []float64{9, 8, 7}, ackOnA.Values())
	require.True(t, schemeA.IsCouplingTimestepComplete())
	require.True(t, schemeB.IsCouplingTimestepComplete())
	require.True(t, schemeA.IsActionRequired(cplcore.ActionWriteIterationCheckpoint))
	require.True(t, schemeB.IsActionRequired(cplcore.ActionWriteIterationCheckpoint))
	require.False(t, schemeA.IsCouplingOngoing())
}

// TestNewSchemeRejectsInvalidConfig checks that validation runs before any
// construction: an implicit scheme without max-iterations must fail as a
// configuration error.
func TestNewSchemeRejectsInvalidConfig(t *testing.T) {
	cfg := serialImplicitConfig()
	cfg.MaxIterations = 0

	_, err := cplscheme.NewScheme(cfg, "A", cplscheme.Deps{Registry: registryFor(t, "A")})
	require.Error(t, err)
	var coreErr *cplcore.Error
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, cplcore.KindConfiguration, coreErr.Kind)
	require.ErrorIs(t, err, config.ErrMaxIterationsTooLow)
}

func TestNewSchemeRejectsUnknownData(t *testing.T) {
	chA, _ := wireM2N(t, "factory-unknown-data")
	cfg := serialImplicitConfig()
	cfg.Exchanges[0].DataName = "Displacements"

	_, err := cplscheme.NewScheme(cfg, "A", cplscheme.Deps{
		Registry: registryFor(t, "A"), Channels: map[string]m2n.M2N{"B": chA},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "Displacements")
}

func TestNewSchemeRejectsMissingChannel(t *testing.T) {
	cfg := serialImplicitConfig()
	_, err := cplscheme.NewScheme(cfg, "A", cplscheme.Deps{Registry: registryFor(t, "A")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no M2N channel")
}

func TestNewSchemeRejectsForeignParticipant(t *testing.T) {
	chA, _ := wireM2N(t, "factory-foreign")
	cfg := serialImplicitConfig()
	reg := coupling.NewRegistry()
	d, err := coupling.New("Forces", "Surface", 1, coupling.Sent, 3, 1)
	require.NoError(t, err)
	reg.Add(d)
	cfg.Exchanges = []config.DataExchangeConfig{
		{DataName: "Forces", MeshName: "Surface", From: "C", To: "B"},
	}

	_, err = cplscheme.NewScheme(cfg, "C", cplscheme.Deps{
		Registry: reg, Channels: map[string]m2n.M2N{"B": chA},
	})
	require.Error(t, err)
}

// TestNewSchemeCompositional builds a composition of two serial explicit
// sub-schemes from configuration alone, one per peer.
func TestNewSchemeCompositional(t *testing.T) {
	ch01A, ch01B := wireM2N(t, "factory-comp-01")
	ch12A, ch12B := wireM2N(t, "factory-comp-12")

	sub := func(from, to string) config.SchemeConfig {
		return config.SchemeConfig{
			Type:           config.SerialExplicit,
			MaxTimesteps:   2,
			TimestepLength: 0.5,
			Participants:   []string{from, to},
			Exchanges: []config.DataExchangeConfig{
				{DataName: "d" + from + to, MeshName: "Surface", From: from, To: to},
			},
		}
	}
	compCfg := func(subs ...config.SchemeConfig) config.SchemeConfig {
		return config.SchemeConfig{Type: config.Compositional, SubSchemes: subs}
	}

	regFor := func(t *testing.T, names map[string]coupling.Direction) *coupling.Registry {
		reg := coupling.NewRegistry()
		for name, dir := range names {
			d, err := coupling.New(coupling.DataID(name), "Surface", 1, dir, 1, 1)
			require.NoError(t, err)
			reg.Add(d)
		}
		return reg
	}

	p0, err := cplscheme.NewScheme(compCfg(sub("P0", "P1")), "P0", cplscheme.Deps{
		Registry: regFor(t, map[string]coupling.Direction{"dP0P1": coupling.Sent}),
		Channels: map[string]m2n.M2N{"P1": ch01A},
	})
	require.NoError(t, err)
	p1, err := cplscheme.NewScheme(compCfg(sub("P0", "P1"), sub("P1", "P2")), "P1", cplscheme.Deps{
		Registry: regFor(t, map[string]coupling.Direction{"dP0P1": coupling.Received, "dP1P2": coupling.Sent}),
		Channels: map[string]m2n.M2N{"P0": ch01B, "P2": ch12A},
	})
	require.NoError(t, err)
	p2, err := cplscheme.NewScheme(compCfg(sub("P1", "P2")), "P2", cplscheme.Deps{
		Registry: regFor(t, map[string]coupling.Direction{"dP1P2": coupling.Received}),
		Channels: map[string]m2n.M2N{"P1": ch12B},
	})
	require.NoError(t, err)

	participants := []cplscheme.Scheme{p0, p1, p2}
	for _, p := range participants {
		require.NoError(t, p.Initialize(0, 0))
	}
	errs := make([]error, len(participants))
	done := make(chan int, len(participants))
	for i, p := range participants {
		i, p := i, p
		go func() {
			defer func() { done <- i }()
			for p.IsCouplingOngoing() {
				if _, err := p.Advance(); err != nil {
					errs[i] = err
					return
				}
			}
			errs[i] = p.Finalize()
		}()
	}
	for range participants {
		<-done
	}
	for i, err := range errs {
		require.NoErrorf(t, err, "participant %d", i)
	}
	for i, p := range participants {
		require.Equalf(t, 2, p.GetTimesteps(), "participant %d", i)
	}
}
