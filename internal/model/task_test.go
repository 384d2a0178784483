package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppTask_MergeWith_DeleteAbsorbsAnything(t *testing.T) {
	app := AppName("demo")
	create := NewCreateOrUpdateTask("s1", app, CreateOrUpdatePayload{})
	del := NewDeleteTask("s2", app)

	merged := create.MergeWith(del)
	require.Equal(t, TaskKindDelete, merged.Kind)
	require.Equal(t, "s2", merged.StatusID)

	merged2 := del.MergeWith(create)
	require.Equal(t, TaskKindDelete, merged2.Kind)
}

func TestAppTask_MergeWith_CreateOrUpdateMergesConfigsRightWins(t *testing.T) {
	app := AppName("demo")
	left := NewCreateOrUpdateTask("s1", app, CreateOrUpdatePayload{
		ServiceConfigs: []ServiceConfig{{ServiceName: "api", Port: 8080}},
		Owners:         []string{"alice"},
	})
	right := NewCreateOrUpdateTask("s2", app, CreateOrUpdatePayload{
		ServiceConfigs: []ServiceConfig{{ServiceName: "api", Port: 9090}, {ServiceName: "web", Port: 80}},
		Owners:         []string{"bob"},
	})

	merged := left.MergeWith(right)
	require.Equal(t, TaskKindCreateOrUpdate, merged.Kind)
	require.Equal(t, "s2", merged.StatusID)
	require.Len(t, merged.CreateOrUpdate.ServiceConfigs, 2)

	var apiPort uint16
	for _, c := range merged.CreateOrUpdate.ServiceConfigs {
		if c.ServiceName == "api" {
			apiPort = c.Port
		}
	}
	require.Equal(t, uint16(9090), apiPort)
	require.Equal(t, []string{"alice", "bob"}, merged.CreateOrUpdate.Owners)
}

func TestAppTask_MergeWith_UserDefinedParametersDeepMerge(t *testing.T) {
	app := AppName("demo")
	left := NewCreateOrUpdateTask("s1", app, CreateOrUpdatePayload{
		UserDefinedParameters: map[string]interface{}{
			"limits": map[string]interface{}{"cpu": "1"},
			"tags":   []interface{}{"a"},
		},
	})
	right := NewCreateOrUpdateTask("s2", app, CreateOrUpdatePayload{
		UserDefinedParameters: map[string]interface{}{
			"limits": map[string]interface{}{"memory": "512Mi"},
			"tags":   []interface{}{"b"},
		},
	})

	merged := left.MergeWith(right)
	params := merged.CreateOrUpdate.UserDefinedParameters.(map[string]interface{})
	limits := params["limits"].(map[string]interface{})
	require.Equal(t, "1", limits["cpu"])
	require.Equal(t, "512Mi", limits["memory"])
	require.Equal(t, []interface{}{"a", "b"}, params["tags"])
}

func TestAppTask_MergeWith_BackupNotMergeableReplaces(t *testing.T) {
	app := AppName("demo")
	a := NewBackUpTask("s1", app, "first")
	b := NewBackUpTask("s2", app, "second")

	merged := a.MergeWith(b)
	require.Equal(t, TaskKindBackUp, merged.Kind)
	require.Equal(t, "second", merged.BackUp.Payload)
}
