package autorunes

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/lcubridge/lcubridge/bridge"
	"github.com/lcubridge/lcubridge/plugins"
	"github.com/lcubridge/lcubridge/runes"
)

const Name = "autorunes"

const ChampSelectSessionUri = "/lol-champ-select/v1/session"

var log = bridge.LogFn(bridge.LogLevelInfo, Name)
var lifecycleLog = bridge.LogFn(bridge.LogLevelLifecycle, Name)

func init() {
	plugins.Register(Name, func(options plugins.Options) (plugins.Plugin, error) {
		settings := DefaultSettings()
		if runesDir, ok := options["runes_dir"]; ok {
			settings.RunesDir = runesDir
		}
		if pagePrefix, ok := options["page_prefix"]; ok {
			settings.PagePrefix = pagePrefix
		}
		return New(settings), nil
	})
}

type Settings struct {
	// holds one `<Champion name>.json` page source per champion
	RunesDir string
	// the page that is overwritten
	PagePrefix string
}

func DefaultSettings() *Settings {
	return &Settings{
		RunesDir:   "runes",
		PagePrefix: "auto ",
	}
}

type champSelectAction struct {
	ActorCellId int    `json:"actorCellId"`
	ChampionId  int    `json:"championId"`
	Type        string `json:"type"`
	Completed   bool   `json:"completed"`
}

type champSelectSession struct {
	LocalPlayerCellId int                   `json:"localPlayerCellId"`
	Actions           [][]champSelectAction `json:"actions"`
}

// AutoRunes overwrites a designated rune page with the page for the champion
// the local player picks in champion select.
type AutoRunes struct {
	settings *Settings

	host     plugins.Host
	compiler *runes.Compiler
	// id -> champion
	champions map[int]*bridge.Champion
	pageId    int

	stateLock sync.Mutex
	// the champion the page currently holds
	currentChampionId int
}

func New(settings *Settings) *AutoRunes {
	return &AutoRunes{
		settings:          settings,
		currentChampionId: -1,
	}
}

func (self *AutoRunes) Name() string {
	return Name
}

func (self *AutoRunes) Start(ctx context.Context, host plugins.Host) error {
	if err := host.WaitForLogin(ctx); err != nil {
		return err
	}
	snapshot, err := host.CurrentData(ctx)
	if err != nil {
		return err
	}
	compiler, err := runes.NewCompiler(snapshot)
	if err != nil {
		return err
	}
	champions, err := snapshot.ChampionList()
	if err != nil {
		return err
	}
	pages, err := runes.ListPages(ctx, host)
	if err != nil {
		return err
	}
	page := runes.FindPage(pages, self.settings.PagePrefix)
	if page == nil {
		return fmt.Errorf("No rune page named %q...", self.settings.PagePrefix)
	}

	self.host = host
	self.compiler = compiler
	self.champions = map[int]*bridge.Champion{}
	for _, champion := range champions {
		self.champions[champion.Id] = champion
	}
	self.pageId = page.Id

	unsub := host.Subscribe(bridge.JsonApiKey(ChampSelectSessionUri), func(event *bridge.Event) {
		self.onSession(ctx, event)
	})
	go func() {
		<-ctx.Done()
		unsub()
	}()
	return nil
}

func (self *AutoRunes) onSession(ctx context.Context, event *bridge.Event) {
	if event.ChangeType == bridge.ChangeTypeDelete {
		return
	}
	session := &champSelectSession{}
	if err := event.Json(session); err != nil {
		lifecycleLog("bad session = %s", err)
		return
	}
	for _, actions := range session.Actions {
		for _, action := range actions {
			if action.ActorCellId != session.LocalPlayerCellId {
				continue
			}
			// update on pick. A lock in would be `action.Completed`.
			if action.Type != "pick" || action.ChampionId == 0 {
				continue
			}
			if err := self.apply(ctx, action.ChampionId); err != nil {
				log("%d = %s", action.ChampionId, err)
			}
		}
	}
}

var errUnknownChampion = errors.New("Unknown champion.")

func (self *AutoRunes) apply(ctx context.Context, championId int) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	champion, ok := self.champions[championId]
	if !ok {
		return errUnknownChampion
	}
	if champion.Id == self.currentChampionId {
		return nil
	}

	source, err := runes.LoadPageSource(filepath.Join(self.settings.RunesDir, champion.Name+".json"))
	if err != nil {
		return err
	}
	page, err := self.compiler.Compile(source)
	if err != nil {
		return err
	}
	page.Name = fmt.Sprintf("%s(%s)", self.settings.PagePrefix, champion.Name)

	if err := runes.UpdatePage(ctx, self.host, self.pageId, page); err != nil {
		return err
	}
	self.currentChampionId = champion.Id
	log("updated rune page for %s", champion.Name)
	return nil
}

func (self *AutoRunes) CurrentChampionId() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.currentChampionId
}
