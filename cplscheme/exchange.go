// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package cplscheme

import (
	"fmt"

	"github.com/luxfi/log"

	"github.com/precice-go/cplcore"
	"github.com/precice-go/cplcore/accel"
	"github.com/precice-go/cplcore/config"
	"github.com/precice-go/cplcore/convergence"
	"github.com/precice-go/cplcore/coordinator"
	"github.com/precice-go/cplcore/coupling"
	"github.com/precice-go/cplcore/m2n"
)

// Deps are the external collaborators NewScheme wires into a constructed
// scheme.
type Deps struct {
	Log log.Logger
	// Registry resolves each configured exchange's data field by name.
	Registry *coupling.Registry
	// Channels holds one connected M2N channel per peer participant name.
	Channels map[string]m2n.M2N
	// Coordinator is handed to the acceleration core for its distributed
	// multiplies; nil defaults to a single-rank coordinator.
	Coordinator coordinator.Coordinator
}

// NewScheme validates cfg and builds the concrete scheme it describes for
// participant self: exchanges are resolved against deps.Registry, peer
// channels against deps.Channels, convergence measures through
// convergence.New, and the acceleration (where configured) through
// accel.New over the resolved fields in exchange-registration order.
func NewScheme(cfg config.SchemeConfig, self string, deps Deps) (Scheme, error) {
	if err := cfg.Valid(); err != nil {
		return nil, cplcore.ConfigurationError("cplscheme.NewScheme", err)
	}
	l := deps.Log
	if l == nil {
		l = log.NewNoOpLogger()
	}

	if cfg.Type == config.Compositional {
		subs := make([]Scheme, 0, len(cfg.SubSchemes))
		for i := range cfg.SubSchemes {
			sub, err := NewScheme(cfg.SubSchemes[i], self, deps)
			if err != nil {
				return nil, fmt.Errorf("sub-scheme[%d]: %w", i, err)
			}
			subs = append(subs, sub)
		}
		return NewCompositional(subs, l), nil
	}

	send, recv, order, sizes, err := resolveExchanges(cfg.Exchanges, self, deps.Registry)
	if err != nil {
		return nil, err
	}
	if len(send)+len(recv) == 0 {
		return nil, cplcore.ConfigurationError("cplscheme.NewScheme",
			fmt.Errorf("participant %q takes part in none of the configured exchanges", self))
	}

	controller, err := isControllerParticipant(cfg, self)
	if err != nil {
		return nil, err
	}

	var conv *convergence.Set
	if controller && len(cfg.ConvergenceMeasures) > 0 {
		conv = convergence.NewSet()
		for _, mc := range cfg.ConvergenceMeasures {
			m, err := convergence.New(mc)
			if err != nil {
				return nil, err
			}
			conv.Add(convergence.Entry{DataID: coupling.DataID(mc.DataName), Measure: m, Suffices: mc.Suffices})
		}
	}

	// The serial scheme accelerates only on its controller; the parallel
	// and multi schemes accelerate on every participant, each over its own
	// resolved fields. Explicit schemes never iterate, so none is built.
	var acc *accel.Accelerator
	needsAccel := cfg.Type == config.ParallelImplicit || cfg.Type == config.Multi ||
		(cfg.Type == config.SerialImplicit && controller)
	if cfg.Acceleration != nil && needsAccel {
		acc, err = accel.New(cfg.Acceleration, order, sizes, accel.Deps{Log: l, Coordinator: deps.Coordinator})
		if err != nil {
			return nil, err
		}
	}

	base := Config{
		Implicit:               cfg.Type == config.SerialImplicit || cfg.Type == config.ParallelImplicit || cfg.Type == config.Multi,
		MaxTime:                cfg.MaxTime,
		MaxTimesteps:           cfg.MaxTimesteps,
		TimestepLength:         cfg.TimestepLength,
		MaxIterations:          cfg.MaxIterations,
		InitializeData:         cfg.InitializeData,
		IsInitialDataWriter:    cfg.InitializeData && self == cfg.InitialDataWriter,
		ResetInitialDataWriter: cfg.ResetInitialDataWriter,
	}

	switch cfg.Type {
	case config.SerialExplicit, config.SerialImplicit:
		peer, err := twoPartyPeer(cfg.Participants, self)
		if err != nil {
			return nil, err
		}
		ch, err := channelTo(deps.Channels, peer)
		if err != nil {
			return nil, err
		}
		role := RoleFirst
		if controller {
			role = RoleSecond
		}
		return NewSerial(base, role, ch, send, recv, conv, acc, l), nil

	case config.ParallelExplicit, config.ParallelImplicit:
		peer, err := twoPartyPeer(cfg.Participants, self)
		if err != nil {
			return nil, err
		}
		ch, err := channelTo(deps.Channels, peer)
		if err != nil {
			return nil, err
		}
		return NewParallel(base, controller, ch, send, recv, conv, acc, l), nil

	case config.Multi:
		legs, err := resolveMultiLegs(cfg, self, controller, deps)
		if err != nil {
			return nil, err
		}
		return NewMulti(base, controller, legs, conv, acc, l), nil

	default:
		return nil, cplcore.ConfigurationError("cplscheme.NewScheme",
			fmt.Errorf("unknown scheme type %v", cfg.Type))
	}
}

// resolveExchanges looks each configured exchange up in reg and splits the
// fields this participant sends from those it receives, preserving
// registration order. order/sizes cover every field self takes part in,
// deduplicated, for constructing the acceleration over the same
// concatenated layout on every participant.
func resolveExchanges(exchanges []config.DataExchangeConfig, self string, reg *coupling.Registry) (send, recv []*coupling.Data, order []coupling.DataID, sizes map[coupling.DataID]int, err error) {
	if reg == nil {
		return nil, nil, nil, nil, cplcore.ConfigurationError("cplscheme.NewScheme",
			fmt.Errorf("no coupling data registry supplied"))
	}
	sizes = make(map[coupling.DataID]int)
	for _, e := range exchanges {
		if e.From != self && e.To != self {
			continue
		}
		id := coupling.DataID(e.DataName)
		d, ok := reg.Get(id)
		if !ok {
			return nil, nil, nil, nil, cplcore.ConfigurationError("cplscheme.NewScheme",
				fmt.Errorf("exchange references unknown data %q", e.DataName))
		}
		if e.From == self {
			send = append(send, d)
		} else {
			recv = append(recv, d)
		}
		if _, seen := sizes[id]; !seen {
			order = append(order, id)
			sizes[id] = len(d.Values())
		}
	}
	return send, recv, order, sizes, nil
}

// resolveMultiLegs groups the resolved exchanges by peer participant: the
// controller gets one leg per other participant, everyone else exactly one
// leg to the controller.
func resolveMultiLegs(cfg config.SchemeConfig, self string, controller bool, deps Deps) ([]MultiLeg, error) {
	peers := make(map[string]*MultiLeg)
	var peerOrder []string
	legFor := func(peer string) (*MultiLeg, error) {
		if leg, ok := peers[peer]; ok {
			return leg, nil
		}
		ch, err := channelTo(deps.Channels, peer)
		if err != nil {
			return nil, err
		}
		leg := &MultiLeg{Channel: ch}
		peers[peer] = leg
		peerOrder = append(peerOrder, peer)
		return leg, nil
	}

	for _, e := range cfg.Exchanges {
		if e.From != self && e.To != self {
			continue
		}
		d, ok := deps.Registry.Get(coupling.DataID(e.DataName))
		if !ok {
			return nil, cplcore.ConfigurationError("cplscheme.NewScheme",
				fmt.Errorf("exchange references unknown data %q", e.DataName))
		}
		peer := e.To
		if e.To == self {
			peer = e.From
		}
		if !controller && peer != cfg.Controller {
			return nil, cplcore.ConfigurationError("cplscheme.NewScheme",
				fmt.Errorf("participant %q exchanges with %q, not the controller %q", self, peer, cfg.Controller))
		}
		leg, err := legFor(peer)
		if err != nil {
			return nil, err
		}
		if e.From == self {
			leg.SendData = append(leg.SendData, d)
		} else {
			leg.ReceiveData = append(leg.ReceiveData, d)
		}
	}

	legs := make([]MultiLeg, 0, len(peerOrder))
	for _, peer := range peerOrder {
		legs = append(legs, *peers[peer])
	}
	return legs, nil
}

// isControllerParticipant decides whether self runs the convergence
// verdict: the named controller for a multi scheme, the second participant
// for the two-party schemes.
func isControllerParticipant(cfg config.SchemeConfig, self string) (bool, error) {
	if cfg.Type == config.Multi {
		return self == cfg.Controller, nil
	}
	if len(cfg.Participants) != 2 {
		return false, cplcore.ConfigurationError("cplscheme.NewScheme",
			fmt.Errorf("a two-party scheme needs exactly 2 participants, got %d", len(cfg.Participants)))
	}
	switch self {
	case cfg.Participants[0]:
		return false, nil
	case cfg.Participants[1]:
		return true, nil
	default:
		return false, cplcore.ConfigurationError("cplscheme.NewScheme",
			fmt.Errorf("participant %q is not one of %v", self, cfg.Participants))
	}
}

func twoPartyPeer(participants []string, self string) (string, error) {
	if participants[0] == self {
		return participants[1], nil
	}
	if participants[1] == self {
		return participants[0], nil
	}
	return "", cplcore.ConfigurationError("cplscheme.NewScheme",
		fmt.Errorf("participant %q is not one of %v", self, participants))
}

func channelTo(channels map[string]m2n.M2N, peer string) (m2n.M2N, error) {
	ch, ok := channels[peer]
	if !ok || ch == nil {
		return nil, cplcore.ConfigurationError("cplscheme.NewScheme",
			fmt.Errorf("no M2N channel connected to participant %q", peer))
	}
	return ch, nil
}

// sendAll sends each field's current values over ch, in registration
// order, the order the receiving side reads them back in.
func sendAll(ch m2n.M2N, fields []*coupling.Data) error {
	for _, d := range fields {
		if err := ch.Send(d.Values(), string(d.Mesh), d.Dim); err != nil {
			return err
		}
	}
	return nil
}

// receiveAll receives each field's values over ch, in registration order,
// and writes them into the field's current iterate.
func receiveAll(ch m2n.M2N, fields []*coupling.Data) error {
	for _, d := range fields {
		got, err := ch.Receive(string(d.Mesh), d.Dim, len(d.Values()))
		if err != nil {
			return err
		}
		if err := d.SetValues(got); err != nil {
			return err
		}
	}
	return nil
}

// completeAll shifts every field's history and writes its converged value
// in, the way a completed time step's result becomes the next step's
// baseline (coupling.Data.CompleteStep).
func completeAll(fields []*coupling.Data) {
	for _, d := range fields {
		d.CompleteStep()
	}
}

// controlMeshID names the synthetic exchange used to carry the implicit-
// scheme convergence broadcast, (converged, timestepComplete, nextDt)
// packed as three doubles.
const controlMeshID = "__control__"

// sendControl broadcasts the controller's verdict to a partner/participant
// over ch.
func sendControl(ch m2n.M2N, converged, timestepComplete bool, nextDt float64) error {
	return ch.Send([]float64{boolToFloat(converged), boolToFloat(timestepComplete), nextDt}, controlMeshID, 3)
}

// receiveControl receives the controller's verdict, the non-controller
// counterpart to sendControl.
func receiveControl(ch m2n.M2N) (converged, timestepComplete bool, nextDt float64, err error) {
	v, err := ch.Receive(controlMeshID, 3, 3)
	if err != nil {
		return false, false, 0, err
	}
	return v[0] != 0, v[1] != 0, v[2], nil
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// measureValues gathers the (oldValue, newValue) pair convergence.Set.Evaluate
// expects for every field in fields.
func measureValues(fields []*coupling.Data) (map[coupling.DataID][2][]float64, error) {
	out := make(map[coupling.DataID][2][]float64, len(fields))
	for _, d := range fields {
		old, err := d.OldColumn(0)
		if err != nil {
			return nil, err
		}
		out[d.ID] = [2][]float64{old, d.Values()}
	}
	return out, nil
}

// dataMapOf indexes fields by DataID for accel.Accelerator.PerformPostProcessing.
func dataMapOf(groups ...[]*coupling.Data) map[coupling.DataID]*coupling.Data {
	out := make(map[coupling.DataID]*coupling.Data)
	for _, g := range groups {
		for _, d := range g {
			out[d.ID] = d
		}
	}
	return out
}
