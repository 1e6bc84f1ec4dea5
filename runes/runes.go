package runes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/lcubridge/lcubridge/bridge"
)

const PagesUri = "/lol-perks/v1/pages"

// NameOrId is a perk or style given either by id or by display name
type NameOrId struct {
	Id   int
	Name string
}

func (self NameOrId) IsName() bool {
	return self.Name != ""
}

func (self NameOrId) MarshalJSON() ([]byte, error) {
	if self.IsName() {
		return json.Marshal(self.Name)
	}
	return json.Marshal(self.Id)
}

func (self *NameOrId) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if 0 < len(b) && b[0] == '"' {
		*self = NameOrId{}
		return json.Unmarshal(b, &self.Name)
	}
	*self = NameOrId{}
	return json.Unmarshal(b, &self.Id)
}

// PageSource is a rune page as written by hand, e.g.
//
//	{
//	  "primaryStyleId": "Domination",
//	  "selectedPerkIds": ["Electrocute", "Taste of Blood", 8138, ...],
//	  "subStyleId": "Sorcery"
//	}
type PageSource struct {
	Name            string     `json:"name,omitempty"`
	PrimaryStyleId  NameOrId   `json:"primaryStyleId"`
	SelectedPerkIds []NameOrId `json:"selectedPerkIds"`
	SubStyleId      NameOrId   `json:"subStyleId"`
}

func ParsePageSource(b []byte) (*PageSource, error) {
	source := &PageSource{}
	if err := json.Unmarshal(b, source); err != nil {
		return nil, err
	}
	return source, nil
}

func LoadPageSource(path string) (*PageSource, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePageSource(b)
}

// Page is a rune page in the form the perks api accepts
type Page struct {
	Id              int    `json:"id,omitempty"`
	Name            string `json:"name"`
	PrimaryStyleId  int    `json:"primaryStyleId"`
	SelectedPerkIds []int  `json:"selectedPerkIds"`
	SubStyleId      int    `json:"subStyleId"`
	Current         bool   `json:"current,omitempty"`
	IsEditable      bool   `json:"isEditable,omitempty"`
}

// Compiler resolves perk and style names to ids with the reference data of one build.
type Compiler struct {
	buildVersion string
	perkIds      map[string]int
	styleIds     map[string]int
}

func NewCompiler(snapshot *bridge.DataSnapshot) (*Compiler, error) {
	perks, err := snapshot.PerkList()
	if err != nil {
		return nil, fmt.Errorf("perks: %w", err)
	}
	perkStyles, err := snapshot.PerkStyleList()
	if err != nil {
		return nil, fmt.Errorf("perk styles: %w", err)
	}
	compiler := &Compiler{
		buildVersion: snapshot.BuildVersion,
		perkIds:      map[string]int{},
		styleIds:     map[string]int{},
	}
	for _, perk := range perks {
		// first wins, as the catalog order is stable
		if _, ok := compiler.perkIds[perk.Name]; !ok {
			compiler.perkIds[perk.Name] = perk.Id
		}
	}
	for _, perkStyle := range perkStyles {
		if _, ok := compiler.styleIds[perkStyle.Name]; !ok {
			compiler.styleIds[perkStyle.Name] = perkStyle.Id
		}
	}
	return compiler, nil
}

func (self *Compiler) BuildVersion() string {
	return self.buildVersion
}

func (self *Compiler) PerkId(name string) (int, error) {
	id, ok := self.perkIds[name]
	if !ok {
		return 0, fmt.Errorf("Invalid rune name: %s", name)
	}
	return id, nil
}

func (self *Compiler) StyleId(name string) (int, error) {
	id, ok := self.styleIds[name]
	if !ok {
		return 0, fmt.Errorf("Invalid rune style name: %s", name)
	}
	return id, nil
}

func (self *Compiler) style(v NameOrId) (int, error) {
	if v.IsName() {
		return self.StyleId(v.Name)
	}
	return v.Id, nil
}

func (self *Compiler) perk(v NameOrId) (int, error) {
	if v.IsName() {
		return self.PerkId(v.Name)
	}
	return v.Id, nil
}

// Compile replaces names with ids. Ids pass through unchanged.
func (self *Compiler) Compile(source *PageSource) (*Page, error) {
	page := &Page{
		Name:            source.Name,
		SelectedPerkIds: []int{},
	}
	var err error
	if page.PrimaryStyleId, err = self.style(source.PrimaryStyleId); err != nil {
		return nil, err
	}
	for _, v := range source.SelectedPerkIds {
		perkId, err := self.perk(v)
		if err != nil {
			return nil, err
		}
		page.SelectedPerkIds = append(page.SelectedPerkIds, perkId)
	}
	if page.SubStyleId, err = self.style(source.SubStyleId); err != nil {
		return nil, err
	}
	return page, nil
}

func ListPages(ctx context.Context, caller bridge.Caller) ([]*Page, error) {
	return bridge.CallResult[[]*Page](ctx, caller, "GET "+PagesUri)
}

// FindPage returns the first page whose name starts with `prefix`
func FindPage(pages []*Page, prefix string) *Page {
	for _, page := range pages {
		if strings.HasPrefix(page.Name, prefix) {
			return page
		}
	}
	return nil
}

// UpdatePage replaces the page `id`
func UpdatePage(ctx context.Context, caller bridge.Caller, id int, page *Page) error {
	_, err := caller.Call(ctx, fmt.Sprintf("PUT %s/%d", PagesUri, id), page)
	return err
}
