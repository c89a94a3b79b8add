// Copyright (c) 2024 Contributors to the Eclipse Foundation
//
// See the NOTICE file(s) distributed with this work for additional
// information regarding copyright ownership.
//
// This program and the accompanying materials are made available under the
// terms of the Apache Software License 2.0 which is available at
// https://www.apache.org/licenses/LICENSE-2.0, or the MIT license
// which is available at https://opensource.org/licenses/MIT.
//
// SPDX-License-Identifier: Apache-2.0 OR MIT

package lola

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eclipse-score/mw-com-lola/internal/logz"
	"github.com/eclipse-score/mw-com-lola/mwcom/config"
	"github.com/eclipse-score/mw-com-lola/mwcom/lola/shm"
)

// pidMappingCapacity bounds how many distinct application ids a single
// service instance's region can register at once (producer plus every
// subscriber, §4.4).
const pidMappingCapacity = 128

// discoveryRoot holds one lock file per offered instance, doubling as
// the discovery index FindService/StartFindService scan (§4.3).
var discoveryRoot = filepath.Join(os.TempDir(), "mw_com_lola", "discovery")

// regionRoot holds the mmap'd ServiceDataStorage files themselves.
var regionRoot = filepath.Join(os.TempDir(), "mw_com_lola", "region")

// ErrAlreadyOffered indicates OfferService found a live peer already
// offering the same instance (§4.3 step 1: at most one producer).
var ErrAlreadyOffered = fmt.Errorf("lola: service instance already offered by a live process")

// inProcessRegistry maps a discovery key to the offering process's own
// ServiceDataStorage, for consumers that happen to live in the same Go
// process as the producer. True cross-process consumers only observe
// liveness through FindService/the lock file (§4.3); sharing the actual
// slot arrays across a real process boundary is outside what Go's type
// system can express for an arbitrary generic payload (see DESIGN.md),
// so ConnectToService only succeeds in-process.
var inProcessRegistry = struct {
	mu    sync.Mutex
	byKey map[string]*ServiceDataStorage
}{byKey: map[string]*ServiceDataStorage{}}

// ServiceDataStorage is the producer- or consumer-side handle onto one
// service instance's shared region: its lock file (liveness), its
// ApplicationIdPidMapping, and a name-keyed registry of each event/field's
// control plane (§3 "ServiceDataStorage", §4.3).
type ServiceDataStorage struct {
	instance config.InstanceIdentifier
	region   *shm.Region
	lock     *shm.LockFile
	isOwner  bool

	mu          sync.Mutex
	pidMapping  *ApplicationIdPidMapping
	controls    map[string]ControlPlane
	connections map[string]any
	consumers   map[int32][]trackedSubscription
	skeletonPid int32
	log         *zap.Logger
}

func discoveryKey(spec config.InstanceSpecifier) string {
	return strings.ReplaceAll(spec.String(), "/", "_")
}

// PrepareServiceStorage builds inst's shared region, its pid-mapping
// table, and the control plane for every configured event/field, without
// yet publishing the instance to service discovery (§4.6 step 2: "call
// binding's PrepareOffer", deliberately kept distinct from step 5's
// discovery publish). This is what lets a façade-level precondition —
// e.g. SkeletonField's unset-initial-value gate — reject an offer before
// the instance ever becomes visible to FindService. Safe to call
// regardless of whether another live process already offers the same
// instance; only Publish contends for the instance's lock.
func PrepareServiceStorage(inst config.InstanceIdentifier, log *zap.Logger) (*ServiceDataStorage, error) {
	log = logz.OrNop(log)
	dep := inst.Instance()
	if dep.Lola == nil {
		return nil, fmt.Errorf("lola: PrepareServiceStorage: instance has no Lola deployment")
	}
	if err := os.MkdirAll(regionRoot, 0o755); err != nil {
		return nil, fmt.Errorf("lola: PrepareServiceStorage: %w", err)
	}

	layout := buildRegionLayout(dep.Lola)
	size := layout.size
	if dep.Lola.SharedMemorySize != nil && int(*dep.Lola.SharedMemorySize) > size {
		size = int(*dep.Lola.SharedMemorySize)
	}
	regionPath := filepath.Join(regionRoot, discoveryKey(dep.InstanceSpecifier)+".shm")
	// init is nil: every structure buildRegionLayout lays out (pid-mapping
	// rows, control words, transaction-log pool blocks) treats its
	// all-zero encoding as the correct initial state (unoccupied row,
	// Unused slot, free/empty log block), so CreateOrOpen's zeroed
	// temp-file bytes need no further writes before publication.
	region, _, err := shm.CreateOrOpen(regionPath, size, shm.Header{Version: 1}, nil)
	if err != nil {
		return nil, fmt.Errorf("lola: PrepareServiceStorage: %w", err)
	}

	s := &ServiceDataStorage{
		instance:   inst,
		region:     region,
		pidMapping: NewApplicationIdPidMappingOverRegion(region, layout.pidMappingOff, layout.pidCapacity),
		controls:   map[string]ControlPlane{},
		log:        log,
	}

	for name := range dep.Lola.Events {
		key := controlKey(config.ElementKindEvent, name)
		el, _ := layout.element(key)
		s.controls[key] = newControlPlane(region, el, log)
	}
	for name := range dep.Lola.Fields {
		key := controlKey(config.ElementKindField, name)
		el, _ := layout.element(key)
		s.controls[key] = newControlPlane(region, el, log)
	}

	return s, nil
}

// Publish acquires inst's discovery lock and registers the offering
// process's pid, making the instance visible to FindService (§4.3 step 1:
// at most one producer; §4.6 step 5: "publish in the service-discovery
// index"). Returns ErrAlreadyOffered if a live peer already holds the
// lock. Callers should invoke this exactly once per successful offer,
// after every façade-level precondition (e.g. a field's initial value)
// has already been checked against the prepared storage.
func (s *ServiceDataStorage) Publish() error {
	if err := os.MkdirAll(discoveryRoot, 0o755); err != nil {
		return fmt.Errorf("lola: Publish: %w", err)
	}
	dep := s.instance.Instance()
	lockPath := filepath.Join(discoveryRoot, discoveryKey(dep.InstanceSpecifier)+".lock")
	lock, err := shm.OpenLockFile(lockPath)
	if err != nil {
		return fmt.Errorf("lola: Publish: %w", err)
	}
	if err := lock.TryLockExclusive(); err != nil {
		lock.Close()
		return ErrAlreadyOffered
	}
	// §4.3 step 3: "Release exclusive flock; retain a shared flock for
	// the service's lifetime (so crashed-process detection via
	// try_lock_exclusive works from peers)." flock on the same fd
	// converts the lock type in place, so this downgrade never opens a
	// window where the lock is unheld between the exclusive race-winning
	// acquire above and the shared hold FindService's peers probe against.
	if err := lock.LockShared(); err != nil {
		lock.Close()
		return fmt.Errorf("lola: Publish: downgrade to shared lock: %w", err)
	}

	s.mu.Lock()
	s.lock = lock
	s.isOwner = true
	s.skeletonPid = int32(os.Getpid())
	s.mu.Unlock()
	if _, _, err := s.pidMapping.RegisterPid("skeleton", s.skeletonPid); err != nil {
		s.log.Warn("pid mapping registration failed for offering process", zap.Error(err))
	}

	inProcessRegistry.mu.Lock()
	inProcessRegistry.byKey[discoveryKey(dep.InstanceSpecifier)] = s
	inProcessRegistry.mu.Unlock()

	s.log.Info("service offered", zap.String("instance", dep.InstanceSpecifier.String()))
	return nil
}

// OfferService implements the producer sequence in one call: prepare the
// storage, then immediately publish it (§4.3 step 1). Used directly by
// callers that have no façade-level preconditions to check between the
// two (the binding-agnostic façade in mwcom instead calls
// PrepareServiceStorage and Publish separately — see SkeletonBase.OfferService).
func OfferService(inst config.InstanceIdentifier, log *zap.Logger) (*ServiceDataStorage, error) {
	s, err := PrepareServiceStorage(inst, log)
	if err != nil {
		return nil, err
	}
	if err := s.Publish(); err != nil {
		s.region.Close()
		return nil, err
	}
	return s, nil
}

// ConnectToService resolves a live producer's ServiceDataStorage for a
// consumer in the same process (§4.3 step 3, with the in-process caveat
// documented on inProcessRegistry).
func ConnectToService(inst config.InstanceIdentifier) (*ServiceDataStorage, error) {
	offered, err := FindService(inst)
	if err != nil {
		return nil, err
	}
	if !offered {
		return nil, ErrServiceNotOffered
	}
	dep := inst.Instance()
	inProcessRegistry.mu.Lock()
	s, ok := inProcessRegistry.byKey[discoveryKey(dep.InstanceSpecifier)]
	inProcessRegistry.mu.Unlock()
	if !ok {
		return nil, ErrServiceNotOffered
	}
	return s, nil
}

func controlKey(kind config.ElementKind, name string) string {
	return fmt.Sprintf("%s:%s", kind, name)
}

// newControlPlane builds el's control-word plane(s) and transaction-log
// pool over region, at the offsets buildRegionLayout computed for it
// (§3, §9) — the production path every OfferService'd control plane
// takes, replacing the pre-region version that allocated its slots on
// the Go heap.
func newControlPlane(region *shm.Region, el elementLayout, log *zap.Logger) ControlPlane {
	pool := newTxLogPool(regionWords(region, el.poolOff, el.maxSubs*(1+el.slots)), el.maxSubs, el.slots)
	if el.composite {
		c := NewEventDataControlCompositeOverRegion(region, el.controlOff, el.asilOff, el.slots, nil, log)
		c.attachTransactionLogPool(pool)
		return c
	}
	c := NewEventDataControlOverRegion(region, el.controlOff, el.slots, nil, log)
	c.attachTransactionLogPool(pool)
	return c
}

// Control returns the control plane registered for an event or field by
// name, or nil if none was configured.
func (s *ServiceDataStorage) Control(kind config.ElementKind, name string) ControlPlane {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controls[controlKey(kind, name)]
}

// EventConnectionFor returns the single EventConnection shared by every
// skeleton- and proxy-side façade bound to the same element, creating it
// on first use over the already-registered control plane. Go cannot
// express a generic method on a non-generic receiver, so this is a
// package-level function rather than a method on ServiceDataStorage.
//
// Sharing one connection per element (rather than each side building its
// own) is what lets a same-process SkeletonEvent's Send actually be
// observable through the paired ProxyEvent's GetNewSamples: the payload
// array lives on the EventConnection, not the ControlPlane, so two
// independently constructed connections over the same control plane
// would hand out slot indices that agree but payload arrays that don't.
func EventConnectionFor[T any](s *ServiceDataStorage, kind config.ElementKind, name string) *EventConnection[T] {
	key := controlKey(kind, name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.connections[key]; ok {
		conn, ok := existing.(*EventConnection[T])
		if !ok {
			fatalf(fmt.Sprintf("lola: element %q requested with a type incompatible with its first binding", key))
		}
		return conn
	}
	control, ok := s.controls[key]
	if !ok {
		return nil
	}
	conn := NewEventConnection[T](control)
	if s.connections == nil {
		s.connections = map[string]any{}
	}
	s.connections[key] = conn
	return conn
}

// payloadBytesFor looks up the genericAccessor side of an already-created
// EventConnection[T] for name, returning slot idx's bytes.
func payloadBytesFor(s *ServiceDataStorage, kind config.ElementKind, name string, idx int) ([]byte, bool) {
	s.mu.Lock()
	existing, ok := s.connections[controlKey(kind, name)]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	accessor, ok := existing.(genericAccessor)
	if !ok {
		return nil, false
	}
	return accessor.PayloadBytes(idx), true
}

// GenericGetNewSamples implements §4.6 GenericProxy's type-erased sample
// delivery: it scans name's control plane exactly as a typed
// ProxyEvent/ProxyField would (ScanNew newest-first, Reference/Release
// per slot), but hands fn a raw byte region instead of a typed *T,
// advancing and returning the watermark the caller owns rather than one
// kept on a Subscription (GenericProxy has no subscription of its own —
// see mwcom.GenericProxy). The element's EventConnection[T] must already
// exist (built by some typed skeleton/proxy in this process) since a
// type-erased caller cannot materialize a payload array for an unknown
// T; ErrElementNotConnected is returned otherwise.
func GenericGetNewSamples(s *ServiceDataStorage, kind config.ElementKind, name string, lastSeen uint64, maxCount uint32, fn func([]byte)) (delivered uint32, newest uint64, err error) {
	control := s.Control(kind, name)
	if control == nil {
		return 0, lastSeen, ErrServiceNotOffered
	}
	candidates, newestObserved := control.ScanNew(lastSeen)
	newest = newestObserved
	if maxCount == 0 || len(candidates) == 0 {
		return 0, newest, nil
	}
	for _, cand := range candidates {
		if delivered >= maxCount {
			break
		}
		if _, ok := control.Reference(cand.idx); !ok {
			continue
		}
		payload, ok := payloadBytesFor(s, kind, name, cand.idx)
		if !ok {
			control.Release(cand.idx)
			return delivered, newest, ErrElementNotConnected
		}
		fn(payload)
		control.Release(cand.idx)
		delivered++
	}
	return delivered, newest, nil
}

// StopOfferService implements the producer teardown sequence (§4.3 step
// 2): invalidate every slot so outstanding consumers observe torn-down
// storage, release the lock, and unlink the region. Idempotent.
func (s *ServiceDataStorage) StopOfferService() error {
	s.mu.Lock()
	controls := make([]ControlPlane, 0, len(s.controls))
	for _, c := range s.controls {
		controls = append(controls, c)
	}
	s.controls = map[string]ControlPlane{}
	s.mu.Unlock()

	for _, c := range controls {
		c.Invalidate()
	}

	if s.isOwner {
		s.lock.Unlock()
		dep := s.instance.Instance()
		shm.Remove(filepath.Join(discoveryRoot, discoveryKey(dep.InstanceSpecifier)+".lock"))
		inProcessRegistry.mu.Lock()
		delete(inProcessRegistry.byKey, discoveryKey(dep.InstanceSpecifier))
		inProcessRegistry.mu.Unlock()
	}
	// lock is nil when PrepareServiceStorage built this storage but
	// Publish was never called (a façade-level precondition rejected the
	// offer before publishing, §4.6).
	if s.lock != nil {
		s.lock.Close()
	}

	if err := s.region.Close(); err != nil {
		return err
	}
	if s.isOwner {
		dep := s.instance.Instance()
		return shm.Unlink(filepath.Join(regionRoot, discoveryKey(dep.InstanceSpecifier)+".shm"))
	}
	return nil
}

// FindService reports whether a live producer currently offers inst
// (§4.3 step 3): the discovery lock file exists and a non-blocking
// exclusive acquire against it fails (meaning the offering process still
// holds it).
func FindService(inst config.InstanceIdentifier) (bool, error) {
	dep := inst.Instance()
	if err := os.MkdirAll(discoveryRoot, 0o755); err != nil {
		return false, fmt.Errorf("lola: FindService: %w", err)
	}
	lockPath := filepath.Join(discoveryRoot, discoveryKey(dep.InstanceSpecifier)+".lock")
	lock, err := shm.OpenLockFile(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer lock.Close()

	err = lock.TryLockExclusive()
	if err == nil {
		// We just acquired it ourselves: nobody was offering.
		lock.Unlock()
		return false, nil
	}
	if err == shm.ErrWouldBlock {
		return true, nil
	}
	return false, err
}

// FindServiceHandler is invoked by StartFindService whenever the offered
// state of an instance changes (§4.3 step 3 "asynchronous notification").
type FindServiceHandler func(inst config.InstanceIdentifier, offered bool)

// findServiceSubscription is the handle returned by StartFindService; it
// stops the background poll loop on Close (§4.3, a disposable-handle idiom).
type findServiceSubscription struct {
	stop chan struct{}
	done chan struct{}
}

// Close stops the poll loop, blocking until it has exited.
func (h *findServiceSubscription) Close() {
	close(h.stop)
	<-h.done
}

// StartFindService polls inst's offered state every interval (bounded
// polling, since a fsnotify-style watch is out of scope here — see
// DESIGN.md) and invokes handler on every observed transition.
func StartFindService(inst config.InstanceIdentifier, interval time.Duration, handler FindServiceHandler) *findServiceSubscription {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	h := &findServiceSubscription{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(h.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var lastKnown bool
		var haveLast bool
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
				offered, err := FindService(inst)
				if err != nil {
					continue
				}
				if !haveLast || offered != lastKnown {
					lastKnown = offered
					haveLast = true
					handler(inst, offered)
				}
			}
		}
	}()
	return h
}
