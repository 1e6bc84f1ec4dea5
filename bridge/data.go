package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	BuildsMethod          = "GET /system/v1/builds"
	CurrentSummonerMethod = "GET /lol-summoner/v1/current-summoner"
	PerksMethod           = "GET /lol-perks/v1/perks"
	PerkStylesMethod      = "GET /lol-perks/v1/styles"
)

func ChampionsMethod(summonerId int64) string {
	return fmt.Sprintf("GET /lol-champions/v1/inventories/%d/champions", summonerId)
}

type Build struct {
	Version string `json:"version"`
	Branch  string `json:"branch,omitempty"`
}

type Summoner struct {
	SummonerId  int64  `json:"summonerId"`
	DisplayName string `json:"displayName,omitempty"`
}

type Champion struct {
	Id    int    `json:"id"`
	Name  string `json:"name"`
	Alias string `json:"alias,omitempty"`
}

type Perk struct {
	Id   int    `json:"id"`
	Name string `json:"name"`
}

type PerkStyle struct {
	Id   int    `json:"id"`
	Name string `json:"name"`
}

// DataSnapshot is reference data for one build version.
// The documents are kept exactly as the service returned them.
type DataSnapshot struct {
	BuildVersion string
	Champions    json.RawMessage
	Perks        json.RawMessage
	PerkStyles   json.RawMessage
}

func (self *DataSnapshot) ChampionList() ([]*Champion, error) {
	champions := []*Champion{}
	err := json.Unmarshal(self.Champions, &champions)
	return champions, err
}

func (self *DataSnapshot) PerkList() ([]*Perk, error) {
	perks := []*Perk{}
	err := json.Unmarshal(self.Perks, &perks)
	return perks, err
}

func (self *DataSnapshot) PerkStyleList() ([]*PerkStyle, error) {
	perkStyles := []*PerkStyle{}
	err := json.Unmarshal(self.PerkStyles, &perkStyles)
	return perkStyles, err
}

// SchemaSource optionally captures an api schema document to store alongside the data.
type SchemaSource func(ctx context.Context) ([]byte, error)

type DataCacheSettings struct {
	SchemaSource SchemaSource
}

func DefaultDataCacheSettings() *DataCacheSettings {
	return &DataCacheSettings{}
}

// DataCache holds the reference data for the running build.
// Loads are single flight: concurrent callers share one version probe and at
// most one live fetch. `ForceUpdate` runs on every connect, since a new service
// instance may be a different build, but the last snapshot is kept so that an
// unchanged version never waits on disk or live fetch.
type DataCache struct {
	ctx    context.Context
	cancel context.CancelFunc

	caller   Caller
	store    SnapshotStore
	settings *DataCacheSettings

	stateLock        sync.Mutex
	version          string
	versionIsCurrent bool
	snapshot         *DataSnapshot
	dataIsCurrent    bool
	// incremented by `ForceUpdate`. Flights are keyed by generation.
	generation uint64

	flightGroup singleflight.Group
	persisting  sync.WaitGroup

	unsubs []func()
}

func NewDataCacheWithDefaults(ctx context.Context, caller Caller, notifier ConnectionNotifier, store SnapshotStore) *DataCache {
	return NewDataCache(ctx, caller, notifier, store, DefaultDataCacheSettings())
}

func NewDataCache(
	ctx context.Context,
	caller Caller,
	notifier ConnectionNotifier,
	store SnapshotStore,
	settings *DataCacheSettings,
) *DataCache {
	cancelCtx, cancel := context.WithCancel(ctx)
	dataCache := &DataCache{
		ctx:      cancelCtx,
		cancel:   cancel,
		caller:   caller,
		store:    store,
		settings: settings,
	}
	if notifier != nil {
		dataCache.unsubs = []func(){
			notifier.AddConnectCallback(dataCache.ForceUpdate),
		}
	}
	go func() {
		<-cancelCtx.Done()
		for _, unsub := range dataCache.unsubs {
			unsub()
		}
	}()
	return dataCache
}

// ForceUpdate marks the version and data stale without dropping the snapshot.
func (self *DataCache) ForceUpdate() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.versionIsCurrent = false
	self.dataIsCurrent = false
	self.generation += 1
	glog.V(1).Infof("[data]force update (%d)\n", self.generation)
}

// Snapshot is the last loaded snapshot, current or not
func (self *DataCache) Snapshot() *DataSnapshot {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.snapshot
}

// CurrentVersion returns the running build version, probing it at most once per generation.
func (self *DataCache) CurrentVersion(ctx context.Context) (string, error) {
	self.stateLock.Lock()
	if self.versionIsCurrent {
		version := self.version
		self.stateLock.Unlock()
		return version, nil
	}
	generation := self.generation
	self.stateLock.Unlock()

	flight := self.flightGroup.DoChan(fmt.Sprintf("version-%d", generation), func() (any, error) {
		build, err := CallResult[*Build](self.ctx, self.caller, BuildsMethod)
		if err != nil {
			return "", err
		}
		if build == nil || build.Version == "" {
			return "", fmt.Errorf("Empty build version.")
		}

		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if generation == self.generation {
			self.version = build.Version
			self.versionIsCurrent = true
		}
		return build.Version, nil
	})
	select {
	case result := <-flight:
		if result.Err != nil {
			return "", result.Err
		}
		return result.Val.(string), nil
	case <-ctx.Done():
		return "", contextError(ctx)
	}
}

// Data returns the snapshot for the running build.
func (self *DataCache) Data(ctx context.Context) (*DataSnapshot, error) {
	self.stateLock.Lock()
	if self.dataIsCurrent && self.snapshot != nil {
		snapshot := self.snapshot
		self.stateLock.Unlock()
		return snapshot, nil
	}
	generation := self.generation
	self.stateLock.Unlock()

	flight := self.flightGroup.DoChan(fmt.Sprintf("data-%d", generation), func() (any, error) {
		return self.load(generation)
	})
	select {
	case result := <-flight:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.(*DataSnapshot), nil
	case <-ctx.Done():
		return nil, contextError(ctx)
	}
}

func (self *DataCache) load(generation uint64) (*DataSnapshot, error) {
	version, err := self.CurrentVersion(self.ctx)
	if err != nil {
		return nil, err
	}

	// keep the snapshot if the build did not change
	self.stateLock.Lock()
	if self.snapshot != nil && self.snapshot.BuildVersion == version {
		snapshot := self.snapshot
		if generation == self.generation {
			self.dataIsCurrent = true
		}
		self.stateLock.Unlock()
		glog.V(1).Infof("[data]%s unchanged\n", version)
		return snapshot, nil
	}
	self.stateLock.Unlock()

	snapshot, diskErr := self.store.Load(version)
	if diskErr == nil {
		glog.V(1).Infof("[data]%s loaded from disk\n", version)
		self.set(generation, snapshot)
		return snapshot, nil
	}
	glog.V(1).Infof("[data]%s not on disk = %s\n", version, diskErr)

	snapshot, fetchErr := self.fetch(version)
	if fetchErr != nil {
		return nil, &CacheLoadError{
			Version:  version,
			DiskErr:  diskErr,
			FetchErr: fetchErr,
		}
	}
	glog.V(1).Infof("[data]%s fetched\n", version)
	self.set(generation, snapshot)
	self.persist(snapshot)
	return snapshot, nil
}

func (self *DataCache) set(generation uint64, snapshot *DataSnapshot) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.snapshot = snapshot
	if generation == self.generation {
		self.dataIsCurrent = true
	}
}

// fetch reads the live data. The champion inventory depends on the summoner,
// the perk catalogs are fetched alongside.
func (self *DataCache) fetch(version string) (*DataSnapshot, error) {
	snapshot := &DataSnapshot{
		BuildVersion: version,
	}

	group, ctx := errgroup.WithContext(self.ctx)
	group.Go(func() error {
		summoner, err := CallResult[*Summoner](ctx, self.caller, CurrentSummonerMethod)
		if err != nil {
			return err
		}
		if summoner == nil {
			return fmt.Errorf("No current summoner.")
		}
		snapshot.Champions, err = self.caller.Call(ctx, ChampionsMethod(summoner.SummonerId))
		return err
	})
	group.Go(func() (err error) {
		snapshot.Perks, err = self.caller.Call(ctx, PerksMethod)
		return
	})
	group.Go(func() (err error) {
		snapshot.PerkStyles, err = self.caller.Call(ctx, PerkStylesMethod)
		return
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// persist saves in the background. Failures are logged and never fail the load.
func (self *DataCache) persist(snapshot *DataSnapshot) {
	self.persisting.Add(1)
	go func() {
		defer self.persisting.Done()
		HandleError(func() {
			if err := self.store.Save(snapshot); err != nil {
				glog.Infof("[data]save %s = %s\n", snapshot.BuildVersion, err)
			}
			if self.settings.SchemaSource == nil {
				return
			}
			schema, err := self.settings.SchemaSource(self.ctx)
			if err != nil {
				glog.V(1).Infof("[data]schema %s = %s\n", snapshot.BuildVersion, err)
				return
			}
			if err := self.store.SaveSchema(snapshot.BuildVersion, schema); err != nil {
				glog.V(1).Infof("[data]save schema %s = %s\n", snapshot.BuildVersion, err)
			}
		})
	}()
}

func (self *DataCache) Close() {
	self.cancel()
}
