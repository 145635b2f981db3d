package schema

import (
	"testing"

	"github.com/nfig-dev/nfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nestedGroup struct {
	Integer int `nfig:"Integer" default:"17"`
}

type basicSettings struct {
	TopInteger int         `nfig:"TopInteger" default:"23"`
	TopString  string      `nfig:"TopString" default:"hi"`
	Nested     nestedGroup `nfig:"Nested,group"`
	Untagged   int
}

func bindBasic(t *testing.T) *Schema {
	t.Helper()
	sch, err := Bind(basicSettings{}, Options{
		AnyTier:       nfig.TierAny,
		AnyDataCenter: nfig.DataCenterAny,
	})
	require.NoError(t, err)
	return sch
}

func TestBind_DiscoversSettingsAndIgnoresUntagged(t *testing.T) {
	sch := bindBasic(t)
	names := make([]string, 0, len(sch.Settings()))
	for _, s := range sch.Settings() {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "TopInteger")
	assert.Contains(t, names, "TopString")
	assert.Contains(t, names, "Nested.Integer")
	assert.NotContains(t, names, "Untagged")
}

func TestBind_RequiresAnyAxisOptions(t *testing.T) {
	_, err := Bind(basicSettings{}, Options{})
	assert.Error(t, err)
}

func TestBind_RejectsDuplicateSettingName(t *testing.T) {
	type dup struct {
		A int `nfig:"X" default:"1"`
		B int `nfig:"X" default:"2"`
	}
	_, err := Bind(dup{}, Options{AnyTier: nfig.TierAny, AnyDataCenter: nfig.DataCenterAny})
	assert.Error(t, err)
}

func TestBind_EncryptedRejectsDefaultTag(t *testing.T) {
	type enc struct {
		Secret string `nfig:"Secret,encrypted" default:"nope"`
	}
	_, err := Bind(enc{}, Options{AnyTier: nfig.TierAny, AnyDataCenter: nfig.DataCenterAny})
	assert.Error(t, err)
}

func TestBuildAndSet(t *testing.T) {
	sch := bindBasic(t)
	root := sch.Build()

	require.NoError(t, sch.Set(root, "TopInteger", "99"))
	require.NoError(t, sch.Set(root, "Nested.Integer", "5"))

	got := root.(*basicSettings)
	assert.Equal(t, 99, got.TopInteger)
	assert.Equal(t, 5, got.Nested.Integer)
}

func TestSet_UnknownSettingErrors(t *testing.T) {
	sch := bindBasic(t)
	root := sch.Build()
	err := sch.Set(root, "DoesNotExist", "1")
	assert.Error(t, err)
}

func TestEffectiveDefaults_FiltersBySubAppAndTier(t *testing.T) {
	sch := bindBasic(t)
	sub7 := 7

	for _, st := range sch.Settings() {
		if st.Name != "TopInteger" {
			continue
		}
		// Append a sub-app-scoped and a tier-scoped default alongside the
		// unconditional one the struct tag already declared.
		st2, _ := sch.Lookup("TopInteger")
		st2.Defaults = append(st2.Defaults, nfig.DefaultValue{
			Name:     "TopInteger",
			Value:    "500",
			SubAppID: &sub7,
			Tier:     nfig.TierAny,
		}, nfig.DefaultValue{
			Name:  "TopInteger",
			Value: "700",
			Tier:  nfig.TierProd,
		})
	}

	generalDefaults := sch.EffectiveDefaults(nfig.TierAny, nil)
	all := generalDefaults.GetAll("TopInteger")
	require.Len(t, all, 1)
	assert.Equal(t, "23", all[0].Value)

	scoped := sch.EffectiveDefaults(nfig.TierAny, &sub7)
	scopedAll := scoped.GetAll("TopInteger")
	require.Len(t, scopedAll, 2)

	prodAll := sch.EffectiveDefaults(nfig.TierProd, nil).GetAll("TopInteger")
	require.Len(t, prodAll, 2)
}
