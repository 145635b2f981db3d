package resolver

import (
	"testing"
	"time"

	"github.com/nfig-dev/nfig"
	"github.com/nfig-dev/nfig/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type settings struct {
	TopInteger int    `nfig:"TopInteger" default:"23"`
	ReadOnly   string `nfig:"ReadOnly,readonly" default:"locked"`
	Secret     string `nfig:"Secret,encrypted"`
}

func bind(t *testing.T) *schema.Schema {
	t.Helper()
	sch, err := schema.Bind(settings{}, schema.Options{
		AnyTier:       nfig.TierAny,
		AnyDataCenter: nfig.DataCenterAny,
	})
	require.NoError(t, err)
	return sch
}

type fakeDecryptor struct {
	plain map[string]string
	err   error
}

func (f fakeDecryptor) Decrypt(ciphertext string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.plain[ciphertext], nil
}

func TestResolve_DefaultOnly(t *testing.T) {
	sch := bind(t)
	defaults := sch.EffectiveDefaults(nfig.TierAny, nil)
	snap := nfig.EmptySnapshot("app1")
	ctx := nfig.Context{Tier: nfig.TierProd, DataCenter: nfig.DataCenterAny}

	root, invalid := Resolve(sch, defaults, snap, ctx, nil)
	require.Empty(t, invalid)
	got := root.(*settings)
	assert.Equal(t, 23, got.TopInteger)
	assert.Equal(t, "locked", got.ReadOnly)
}

func TestResolve_OverrideBeatsDefault(t *testing.T) {
	sch := bind(t)
	defaults := sch.EffectiveDefaults(nfig.TierAny, nil)
	snap := nfig.Snapshot{
		AppName: "app1",
		Commit:  "c1",
		Overrides: nfig.NewListBySetting([]nfig.OverrideValue{
			{Name: "TopInteger", Value: "77", DataCenter: nfig.DataCenterAny},
		}),
	}
	ctx := nfig.Context{Tier: nfig.TierProd, DataCenter: nfig.DataCenterAny}

	root, invalid := Resolve(sch, defaults, snap, ctx, nil)
	require.Empty(t, invalid)
	assert.Equal(t, 77, root.(*settings).TopInteger)
}

func TestResolve_ExpiredOverrideIgnored(t *testing.T) {
	sch := bind(t)
	defaults := sch.EffectiveDefaults(nfig.TierAny, nil)
	past := time.Now().Add(-time.Hour)
	snap := nfig.Snapshot{
		AppName: "app1",
		Commit:  "c1",
		Overrides: nfig.NewListBySetting([]nfig.OverrideValue{
			{Name: "TopInteger", Value: "77", DataCenter: nfig.DataCenterAny, ExpiresAt: &past},
		}),
	}
	ctx := nfig.Context{Tier: nfig.TierProd, DataCenter: nfig.DataCenterAny}

	root, invalid := Resolve(sch, defaults, snap, ctx, nil)
	require.Empty(t, invalid)
	assert.Equal(t, 23, root.(*settings).TopInteger)
}

func TestResolve_DataCenterMismatchIgnored(t *testing.T) {
	sch := bind(t)
	defaults := sch.EffectiveDefaults(nfig.TierAny, nil)
	snap := nfig.Snapshot{
		AppName: "app1",
		Commit:  "c1",
		Overrides: nfig.NewListBySetting([]nfig.OverrideValue{
			{Name: "TopInteger", Value: "77", DataCenter: nfig.DataCenterWest},
		}),
	}
	ctx := nfig.Context{Tier: nfig.TierProd, DataCenter: nfig.DataCenterEast}

	root, invalid := Resolve(sch, defaults, snap, ctx, nil)
	require.Empty(t, invalid)
	assert.Equal(t, 23, root.(*settings).TopInteger)
}

func TestResolve_BadOverrideFallsBackToDefault(t *testing.T) {
	sch := bind(t)
	defaults := sch.EffectiveDefaults(nfig.TierAny, nil)
	snap := nfig.Snapshot{
		AppName: "app1",
		Commit:  "c1",
		Overrides: nfig.NewListBySetting([]nfig.OverrideValue{
			{Name: "TopInteger", Value: "not-a-number", DataCenter: nfig.DataCenterAny},
		}),
	}
	ctx := nfig.Context{Tier: nfig.TierProd, DataCenter: nfig.DataCenterAny}

	root, invalid := Resolve(sch, defaults, snap, ctx, nil)
	require.Len(t, invalid, 1)
	assert.Equal(t, "TopInteger", invalid[0].Setting)
	assert.Equal(t, 23, root.(*settings).TopInteger)
}

func TestResolve_ReadOnlyOverrideRejected(t *testing.T) {
	sch := bind(t)
	defaults := sch.EffectiveDefaults(nfig.TierAny, nil)
	snap := nfig.Snapshot{
		AppName: "app1",
		Commit:  "c1",
		Overrides: nfig.NewListBySetting([]nfig.OverrideValue{
			{Name: "ReadOnly", Value: "unlocked", DataCenter: nfig.DataCenterAny},
		}),
	}
	ctx := nfig.Context{Tier: nfig.TierProd, DataCenter: nfig.DataCenterAny}

	root, invalid := Resolve(sch, defaults, snap, ctx, nil)
	require.Len(t, invalid, 1)
	assert.Equal(t, "ReadOnly", invalid[0].Setting)
	assert.Equal(t, "locked", root.(*settings).ReadOnly)
}

func TestResolve_EncryptedSettingDecrypted(t *testing.T) {
	sch := bind(t)
	defaults := sch.EffectiveDefaults(nfig.TierAny, nil)
	snap := nfig.Snapshot{
		AppName: "app1",
		Commit:  "c1",
		Overrides: nfig.NewListBySetting([]nfig.OverrideValue{
			{Name: "Secret", Value: "ENC:blob", DataCenter: nfig.DataCenterAny},
		}),
	}
	ctx := nfig.Context{Tier: nfig.TierProd, DataCenter: nfig.DataCenterAny}
	dec := fakeDecryptor{plain: map[string]string{"ENC:blob": "hunter2"}}

	root, invalid := Resolve(sch, defaults, snap, ctx, dec)
	require.Empty(t, invalid)
	assert.Equal(t, "hunter2", root.(*settings).Secret)
}
