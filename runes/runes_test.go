package runes

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/lcubridge/lcubridge/bridge"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

func testSnapshot() *bridge.DataSnapshot {
	return &bridge.DataSnapshot{
		BuildVersion: "13.1.1",
		Champions:    json.RawMessage(`[{"id":103,"name":"Ahri"}]`),
		Perks: json.RawMessage(`[
			{"id":8112,"name":"Electrocute"},
			{"id":8139,"name":"Taste of Blood"},
			{"id":8138,"name":"Eyeball Collection"},
			{"id":8135,"name":"Treasure Hunter"},
			{"id":8226,"name":"Manaflow Band"},
			{"id":8210,"name":"Transcendence"},
			{"id":5008,"name":"Adaptive Force"}
		]`),
		PerkStyles: json.RawMessage(`[
			{"id":8100,"name":"Domination"},
			{"id":8200,"name":"Sorcery"}
		]`),
	}
}

func TestCompile(t *testing.T) {
	compiler, err := NewCompiler(testSnapshot())
	assert.Equal(t, err, nil)
	assert.Equal(t, compiler.BuildVersion(), "13.1.1")

	source, err := ParsePageSource([]byte(`{
		"primaryStyleId": "Domination",
		"selectedPerkIds": ["Electrocute", "Taste of Blood", 8138, "Treasure Hunter", "Manaflow Band", "Transcendence", 5008, "Adaptive Force", 5002],
		"subStyleId": 8200
	}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, source.PrimaryStyleId, NameOrId{Name: "Domination"})
	assert.Equal(t, source.SubStyleId, NameOrId{Id: 8200})

	page, err := compiler.Compile(source)
	assert.Equal(t, err, nil)
	assert.Equal(t, page, &Page{
		PrimaryStyleId:  8100,
		SelectedPerkIds: []int{8112, 8139, 8138, 8135, 8226, 8210, 5008, 5008, 5002},
		SubStyleId:      8200,
	})
}

func TestCompileInvalidName(t *testing.T) {
	compiler, err := NewCompiler(testSnapshot())
	assert.Equal(t, err, nil)

	_, err = compiler.Compile(&PageSource{
		PrimaryStyleId:  NameOrId{Name: "Domination"},
		SelectedPerkIds: []NameOrId{{Name: "Electrocut"}},
		SubStyleId:      NameOrId{Name: "Sorcery"},
	})
	assert.Equal(t, err.Error(), "Invalid rune name: Electrocut")

	_, err = compiler.Compile(&PageSource{
		PrimaryStyleId: NameOrId{Name: "Dominion"},
	})
	assert.Equal(t, err.Error(), "Invalid rune style name: Dominion")
}

func TestNameOrIdJson(t *testing.T) {
	b, err := json.Marshal([]NameOrId{{Name: "Sorcery"}, {Id: 8200}})
	assert.Equal(t, err, nil)
	assert.Equal(t, string(b), `["Sorcery",8200]`)

	var v NameOrId
	assert.NotEqual(t, json.Unmarshal([]byte(`true`), &v), nil)
}

func TestLoadPageSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Ahri.json")
	assert.Equal(t, os.WriteFile(path, []byte(`{"primaryStyleId":8100,"selectedPerkIds":[8112],"subStyleId":8200}`), 0644), nil)

	source, err := LoadPageSource(path)
	assert.Equal(t, err, nil)
	assert.Equal(t, source.SelectedPerkIds, []NameOrId{{Id: 8112}})

	_, err = LoadPageSource(filepath.Join(t.TempDir(), "Annie.json"))
	assert.Equal(t, os.IsNotExist(err), true)
}

type pagesCaller struct {
	calls []string
	args  [][]any
}

func (self *pagesCaller) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	self.calls = append(self.calls, method)
	self.args = append(self.args, args)
	if method == "GET "+PagesUri {
		return json.RawMessage(`[{"id":1,"name":"Page 1"},{"id":7,"name":"auto (Annie)","isEditable":true}]`), nil
	}
	return json.RawMessage(`null`), nil
}

func TestPages(t *testing.T) {
	ctx := context.Background()
	caller := &pagesCaller{}

	pages, err := ListPages(ctx, caller)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(pages), 2)

	page := FindPage(pages, "auto ")
	assert.Equal(t, page.Id, 7)
	assert.Equal(t, FindPage(pages, "missing") == nil, true)

	update := &Page{Name: "auto (Ahri)", PrimaryStyleId: 8100}
	assert.Equal(t, UpdatePage(ctx, caller, page.Id, update), nil)
	assert.Equal(t, caller.calls[1], "PUT /lol-perks/v1/pages/7")
	assert.Equal(t, caller.args[1], []any{update})
}
