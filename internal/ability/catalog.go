// Package ability содержит каталог способностей и конечный автомат проверки действий юнита.
package ability

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/annel0/arena-sync/internal/protocol"
	"github.com/annel0/arena-sync/internal/world/entity"
)

// Kind определяет стратегию обработки способности
type Kind string

const (
	KindRespawn     Kind = "respawn"       // Универсальное: возрождение
	KindOutOfBounds Kind = "out_of_bounds" // Универсальное: возврат в игровую зону
	KindStrike      Kind = "strike"        // Удар по одной цели после замаха
	KindMend        Kind = "mend"          // Лечение одной цели после замаха
	KindVolley      Kind = "volley"        // Удар по нескольким целям
	KindBlink       Kind = "blink"         // Мгновенный телепорт
	KindAura        Kind = "aura"          // Баф на себя на время
	KindTotem       Kind = "totem"         // Эффект в мире на время
)

// Коды универсальных действий
const (
	CodeRespawn     int32 = 1
	CodeOutOfBounds int32 = 2
)

// Архетипы юнитов
const (
	ArchetypeWarrior int32 = 1
	ArchetypeRanger  int32 = 2
	ArchetypeCleric  int32 = 3
	ArchetypeDummy   int32 = 10
)

// Ability описание одной способности
type Ability struct {
	Code       int32         `yaml:"code"`
	Name       string        `yaml:"name"`
	Kind       Kind          `yaml:"kind"`
	Cooldown   time.Duration `yaml:"cooldown"`
	Windup     time.Duration `yaml:"windup"`
	Power      int32         `yaml:"power"`
	Range      float32       `yaml:"range"`
	BuffType   int32         `yaml:"buff_type"`
	EffectType int32         `yaml:"effect_type"`
	Duration   time.Duration `yaml:"duration"`
	// Tracked способность участвует в отслеживании комбо
	Tracked bool `yaml:"tracked"`
	// ComboOnly способность получается только из комбо и не может быть запрошена напрямую
	ComboOnly bool `yaml:"combo_only"`
}

// Archetype набор характеристик и способностей типа юнита
type Archetype struct {
	ID        int32   `yaml:"id"`
	Name      string  `yaml:"name"`
	MaxHealth int32   `yaml:"max_health"`
	Playable  bool    `yaml:"playable"`
	Abilities []int32 `yaml:"abilities"`
}

// Combo последовательность отслеживаемых кодов и результирующий код
type Combo struct {
	Sequence [ComboLength]int32 `yaml:"sequence"`
	Result   int32              `yaml:"result"`
}

// Catalog неизменяемый после создания справочник способностей.
// Разделяется между всеми валидаторами по указателю.
type Catalog struct {
	abilities  map[int32]Ability
	archetypes map[int32]Archetype
	owned      map[int32]map[int32]bool
	combos     []Combo
	comboOf    map[int32]int32 // результат комбо -> последний код последовательности
}

// catalogFile формат YAML файла каталога
type catalogFile struct {
	Abilities  []Ability   `yaml:"abilities"`
	Archetypes []Archetype `yaml:"archetypes"`
	Combos     []Combo     `yaml:"combos"`
}

// NewCatalog проверяет описания и строит каталог
func NewCatalog(abilities []Ability, archetypes []Archetype, combos []Combo) (*Catalog, error) {
	c := &Catalog{
		abilities:  make(map[int32]Ability, len(abilities)+2),
		archetypes: make(map[int32]Archetype, len(archetypes)),
		owned:      make(map[int32]map[int32]bool, len(archetypes)),
		comboOf:    make(map[int32]int32, len(combos)),
	}

	for _, u := range universalAbilities() {
		c.abilities[u.Code] = u
	}
	for _, a := range abilities {
		if _, dup := c.abilities[a.Code]; dup {
			return nil, fmt.Errorf("каталог: повторный код способности %d", a.Code)
		}
		if _, ok := strategies[a.Kind]; !ok || a.Kind == KindRespawn || a.Kind == KindOutOfBounds {
			return nil, fmt.Errorf("каталог: способность %d имеет недопустимый вид %q", a.Code, a.Kind)
		}
		if a.Kind == KindVolley && a.Range <= 0 {
			return nil, fmt.Errorf("каталог: залп %d без дальности", a.Code)
		}
		if (a.Kind == KindAura || a.Kind == KindTotem) && a.Duration <= 0 {
			return nil, fmt.Errorf("каталог: способность %d требует длительность", a.Code)
		}
		c.abilities[a.Code] = a
	}

	for _, arch := range archetypes {
		if arch.MaxHealth <= 0 {
			return nil, fmt.Errorf("каталог: архетип %d без здоровья", arch.ID)
		}
		set := make(map[int32]bool, len(arch.Abilities)+2)
		set[CodeRespawn] = true
		set[CodeOutOfBounds] = true
		for _, code := range arch.Abilities {
			if _, ok := c.abilities[code]; !ok {
				return nil, fmt.Errorf("каталог: архетип %d ссылается на неизвестную способность %d", arch.ID, code)
			}
			set[code] = true
		}
		c.archetypes[arch.ID] = arch
		c.owned[arch.ID] = set
	}

	for _, combo := range combos {
		for _, code := range combo.Sequence {
			a, ok := c.abilities[code]
			if !ok || !a.Tracked {
				return nil, fmt.Errorf("каталог: комбо %d содержит неотслеживаемый код %d", combo.Result, code)
			}
		}
		result, ok := c.abilities[combo.Result]
		if !ok {
			return nil, fmt.Errorf("каталог: неизвестный результат комбо %d", combo.Result)
		}
		last := c.abilities[combo.Sequence[ComboLength-1]]
		if strategies[result.Kind].record != strategies[last.Kind].record {
			return nil, fmt.Errorf("каталог: комбо %d меняет форму записи", combo.Result)
		}
		c.combos = append(c.combos, combo)
		c.comboOf[combo.Result] = combo.Sequence[ComboLength-1]
	}
	return c, nil
}

// LoadCatalog читает каталог из YAML файла
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение каталога %s: %w", path, err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("разбор каталога %s: %w", path, err)
	}
	return NewCatalog(f.Abilities, f.Archetypes, f.Combos)
}

// Ability возвращает способность по коду
func (c *Catalog) Ability(code int32) (Ability, bool) {
	a, ok := c.abilities[code]
	return a, ok
}

// Archetype возвращает архетип по идентификатору
func (c *Catalog) Archetype(id int32) (Archetype, bool) {
	a, ok := c.archetypes[id]
	return a, ok
}

// Playable проверяет, что архетип доступен игроку при рукопожатии
func (c *Catalog) Playable(id int32) bool {
	a, ok := c.archetypes[id]
	return ok && a.Playable
}

// PlayableArchetypes возвращает отсортированный список архетипов игрока
func (c *Catalog) PlayableArchetypes() []int32 {
	var ids []int32
	for id, a := range c.archetypes {
		if a.Playable {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Owns проверяет, входит ли способность в набор архетипа
func (c *Catalog) Owns(archetype, code int32) bool {
	return c.owned[archetype][code]
}

// Heals сообщает, лечит ли CombatEffect с этим кодом. Лечение разрешено только способностям вида Mend.
func (c *Catalog) Heals(code int32) bool {
	a, ok := c.abilities[code]
	return ok && a.Kind == KindMend
}

// MatchCombo ищет комбо, совпадающее с кольцом
func (c *Catalog) MatchCombo(ring [ComboLength]int32) (int32, bool) {
	for _, combo := range c.combos {
		if combo.Sequence == ring {
			return combo.Result, true
		}
	}
	return 0, false
}

// ComboTrigger возвращает последний код последовательности для результата комбо
func (c *Catalog) ComboTrigger(result int32) (int32, bool) {
	code, ok := c.comboOf[result]
	return code, ok
}

// RecordKind ожидаемый вид записи для способности
func (a Ability) RecordKind() protocol.Kind {
	return strategies[a.Kind].record
}

func universalAbilities() []Ability {
	return []Ability{
		{Code: CodeRespawn, Name: "respawn", Kind: KindRespawn, Cooldown: 2 * time.Second},
		{Code: CodeOutOfBounds, Name: "out_of_bounds", Kind: KindOutOfBounds},
	}
}

// DefaultCatalog встроенный каталог: три архетипа игрока и манекен
func DefaultCatalog() *Catalog {
	abilities := []Ability{
		{Code: 100, Name: "slash", Kind: KindStrike, Cooldown: 800 * time.Millisecond, Windup: 300 * time.Millisecond, Power: 12, Range: 3, Tracked: true},
		{Code: 101, Name: "cleave", Kind: KindStrike, Cooldown: 1500 * time.Millisecond, Windup: 500 * time.Millisecond, Power: 20, Range: 3.5, Tracked: true},
		{Code: 102, Name: "ward", Kind: KindAura, Cooldown: 12 * time.Second, BuffType: entity.BuffWard, Duration: 3 * time.Second},
		{Code: 103, Name: "whirlwind", Kind: KindStrike, Cooldown: 4 * time.Second, Windup: 200 * time.Millisecond, Power: 45, Range: 4, ComboOnly: true},

		{Code: 200, Name: "shot", Kind: KindStrike, Cooldown: time.Second, Windup: 400 * time.Millisecond, Power: 10, Range: 25},
		{Code: 201, Name: "volley", Kind: KindVolley, Cooldown: 5 * time.Second, Windup: 600 * time.Millisecond, Power: 8, Range: 20},
		{Code: 202, Name: "blink", Kind: KindBlink, Cooldown: 6 * time.Second, Range: 12},
		{Code: 203, Name: "snare_trap", Kind: KindTotem, Cooldown: 10 * time.Second, EffectType: 1, Duration: 8 * time.Second},

		{Code: 300, Name: "mend", Kind: KindMend, Cooldown: 1200 * time.Millisecond, Windup: 700 * time.Millisecond, Power: 18, Range: 15},
		{Code: 301, Name: "smite", Kind: KindStrike, Cooldown: time.Second, Windup: 300 * time.Millisecond, Power: 8, Range: 15},
		{Code: 302, Name: "veil", Kind: KindAura, Cooldown: 15 * time.Second, BuffType: entity.BuffVeil, Duration: 4 * time.Second},
		{Code: 303, Name: "sanctuary", Kind: KindTotem, Cooldown: 20 * time.Second, EffectType: 2, Duration: 10 * time.Second},
	}
	archetypes := []Archetype{
		{ID: ArchetypeWarrior, Name: "warrior", MaxHealth: 150, Playable: true, Abilities: []int32{100, 101, 102}},
		{ID: ArchetypeRanger, Name: "ranger", MaxHealth: 100, Playable: true, Abilities: []int32{200, 201, 202, 203}},
		{ID: ArchetypeCleric, Name: "cleric", MaxHealth: 110, Playable: true, Abilities: []int32{300, 301, 302, 303}},
		{ID: ArchetypeDummy, Name: "dummy", MaxHealth: 200},
	}
	combos := []Combo{
		{Sequence: [ComboLength]int32{100, 100, 101}, Result: 103},
	}

	c, err := NewCatalog(abilities, archetypes, combos)
	if err != nil {
		panic(err)
	}
	return c
}
