package authmodel_test

import (
	"encoding/json"
	"testing"

	"github.com/jrsteele09/go-backoffice/authmodel"
	"github.com/jrsteele09/go-backoffice/internal/utils"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, body string) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &doc))
	return doc
}

func TestLoginResponse_TokenFieldPriority(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"access_token", `{"access_token":"A","token":"B"}`, "A"},
		{"token", `{"token":"B","jwt":"C"}`, "B"},
		{"jwt", `{"jwt":"C","result":{"access_token":"D"}}`, "C"},
		{"result envelope", `{"result":{"access_token":"D"}}`, "D"},
		{"empty access_token falls through", `{"access_token":"","token":"B"}`, "B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := authmodel.LoginResponse(decode(t, tt.body))
			require.NotNil(t, resp.AccessToken)
			require.Equal(t, tt.want, *resp.AccessToken)
		})
	}
}

func TestLoginResponse_NoToken(t *testing.T) {
	resp := authmodel.LoginResponse(decode(t, `{"result":"ok","access_token":42}`))
	require.Nil(t, resp.AccessToken)
}

func TestLoginResponse_OptionalFields(t *testing.T) {
	resp := authmodel.LoginResponse(decode(t, `{"access_token":"A","refresh_token":"R","id_token":"I"}`))
	require.Equal(t, "R", utils.Value(resp.RefreshToken))
	require.Equal(t, "I", utils.Value(resp.IDToken))

	resp = authmodel.LoginResponse(decode(t, `{"access_token":"A"}`))
	require.Nil(t, resp.RefreshToken)
	require.Nil(t, resp.IDToken)
}

func TestRefreshResponse_OnlyAccessTokenField(t *testing.T) {
	resp := authmodel.RefreshResponse(decode(t, `{"token":"B","refresh_token":"R2","id_token":"I"}`))
	require.Nil(t, resp.AccessToken)
	require.Equal(t, "R2", utils.Value(resp.RefreshToken))
	require.Nil(t, resp.IDToken)
}

func TestFieldPath_Lookup(t *testing.T) {
	doc := decode(t, `{"a":{"b":{"c":"x"}},"s":"y"}`)

	v, ok := authmodel.FieldPath{"a", "b", "c"}.Lookup(doc)
	require.True(t, ok)
	require.Equal(t, "x", v)

	_, ok = authmodel.FieldPath{"s", "t"}.Lookup(doc)
	require.False(t, ok)

	_, ok = authmodel.FieldPath{}.Lookup(doc)
	require.False(t, ok)

	require.Equal(t, "a.b.c", authmodel.FieldPath{"a", "b", "c"}.String())
}

func TestRequests_WireNames(t *testing.T) {
	b, err := json.Marshal(authmodel.RefreshRequest{Username: "u", RefreshToken: "r", Company: "t1"})
	require.NoError(t, err)
	require.JSONEq(t, `{"username":"u","refresh_token":"r","company":"t1"}`, string(b))

	b, err = json.Marshal(authmodel.LoginRequest{TenantID: "t1", Email: "e@x.com", Password: "pw"})
	require.NoError(t, err)
	require.JSONEq(t, `{"tenant_id":"t1","email":"e@x.com","password":"pw"}`, string(b))
}
