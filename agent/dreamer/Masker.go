package dreamer

import (
	"fmt"

	"github.com/samuelfneumann/godreamer/utils/floatutils"
	"gonum.org/v1/gonum/mat"
)

// MinedojoMaskerName names the MinedojoMasker in configurations
const MinedojoMaskerName = "minedojo"

// ActionMasker decides which classes of each discrete action head are
// legal. Heads are evaluated in order, so the legal classes of a head
// may depend on the classes already sampled for earlier heads.
type ActionMasker interface {
	// Allowed returns a (batch, classes) matrix holding 1 where the
	// head may take a class and 0 elsewhere, given the one-hot samples
	// of all earlier heads and the masks carried by the observation. A
	// nil matrix leaves the head unrestricted.
	Allowed(head int, sampled []*mat.Dense,
		masks map[string]*mat.Dense) *mat.Dense
}

// NewMasker returns the ActionMasker with the given name. The empty
// name returns a nil masker.
func NewMasker(name string) (ActionMasker, error) {
	switch name {
	case "":
		return nil, nil
	case MinedojoMaskerName:
		return NewMinedojoMasker(), nil
	default:
		return nil, &ConfigError{"masker", fmt.Sprintf("unknown masker %q",
			name)}
	}
}

// MinedojoMasker masks a three-headed Minecraft action space. The
// first head is the functional action type, the second the crafting
// target and the third the inventory slot. The crafting target is
// restricted only when crafting, and the inventory slot only when
// equipping, placing or destroying.
type MinedojoMasker struct {
	Craft      int
	EquipPlace []int
	Destroy    int

	ActionTypeKey string
	CraftKey      string
	EquipPlaceKey string
	DestroyKey    string
}

// NewMinedojoMasker returns a MinedojoMasker with the default action
// indices and observation keys
func NewMinedojoMasker() *MinedojoMasker {
	return &MinedojoMasker{
		Craft:         15,
		EquipPlace:    []int{16, 17},
		Destroy:       18,
		ActionTypeKey: "mask_action_type",
		CraftKey:      "mask_craft_smelt",
		EquipPlaceKey: "mask_equip_place",
		DestroyKey:    "mask_destroy",
	}
}

// Allowed implements the ActionMasker interface
func (m *MinedojoMasker) Allowed(head int, sampled []*mat.Dense,
	masks map[string]*mat.Dense) *mat.Dense {
	switch head {
	case 0:
		return masks[m.ActionTypeKey]
	case 1:
		return m.conditional(sampled[0], masks, func(a int) string {
			if a == m.Craft {
				return m.CraftKey
			}
			return ""
		})
	case 2:
		return m.conditional(sampled[0], masks, func(a int) string {
			for _, e := range m.EquipPlace {
				if a == e {
					return m.EquipPlaceKey
				}
			}
			if a == m.Destroy {
				return m.DestroyKey
			}
			return ""
		})
	default:
		return nil
	}
}

// conditional returns the allowed classes of a head whose mask depends
// on the sampled action type of each row. Rows whose action type has
// no mask, or whose mask is missing, are unrestricted.
func (m *MinedojoMasker) conditional(actionType *mat.Dense,
	masks map[string]*mat.Dense, key func(int) string) *mat.Dense {
	var out *mat.Dense
	r, _ := actionType.Dims()
	for i := 0; i < r; i++ {
		mask, ok := masks[key(floatutils.Argmax(actionType.RawRowView(i)))]
		if !ok {
			continue
		}
		if out == nil {
			_, c := mask.Dims()
			out = mat.NewDense(r, c, nil)
			for k := 0; k < r; k++ {
				fill(out.RawRowView(k), 1)
			}
		}
		copy(out.RawRowView(i), mask.RawRowView(i))
	}
	return out
}
