//go:build consul

package consul

import (
	"testing"

	consulapi "github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gate-console/pkg/errcode"
	"gate-console/pkg/model"
)

func rule(id, method, u string) model.RouteRule {
	return model.RouteRule{ID: id, Method: method, URL: u}
}

func TestIndexKeyEscapesURL(t *testing.T) {
	assert.Equal(t, "gate-console/keys/GET/%2Fuser%3Fa%3D1", indexKey("get", "/user?a=1"))
	assert.NotEqual(t, indexKey("GET", "/a/b"), indexKey("GET", "/a%2Fb"))
}

func TestCreateOpsGuardIndexAndID(t *testing.T) {
	r := rule("id-1", "GET", "/user")
	ops := createOps(r, []byte("{}"))
	require.Len(t, ops, 4)
	assert.Equal(t, consulapi.KVCheckNotExists, ops[0].Verb)
	assert.Equal(t, indexKey("GET", "/user"), ops[0].Key)
	assert.Equal(t, consulapi.KVCheckNotExists, ops[1].Verb)
	assert.Equal(t, routePrefix+"id-1", ops[1].Key)
	assert.Equal(t, []byte("id-1"), ops[2].Value)
}

func TestUpdateOpsMoveIndexOnlyWhenKeyChanges(t *testing.T) {
	cur := rule("id-1", "GET", "/user")

	same := updateOps(cur, rule("id-1", "GET", "/user"), 7, nil)
	require.Len(t, same, 3)
	assert.Equal(t, consulapi.KVCheckIndex, same[0].Verb)
	assert.Equal(t, uint64(7), same[0].Index)

	moved := updateOps(cur, rule("id-1", "GET", "/users"), 7, nil)
	require.Len(t, moved, 5)
	assert.Equal(t, consulapi.KVCheckNotExists, moved[1].Verb)
	assert.Equal(t, indexKey("GET", "/users"), moved[1].Key)
	assert.Equal(t, consulapi.KVDelete, moved[2].Verb)
	assert.Equal(t, indexKey("GET", "/user"), moved[2].Key)
}

func TestTxnErrorNamesTheFailedCheck(t *testing.T) {
	r := rule("id-1", "GET", "/user")
	ops := createOps(r, nil)
	fail := func(i int) *consulapi.KVTxnResponse {
		return &consulapi.KVTxnResponse{Errors: consulapi.TxnErrors{{OpIndex: i, What: "key exists"}}}
	}

	err := txnError("create route", r, ops, fail(0))
	assert.ErrorIs(t, err, errcode.APIAlreadyExist)
	assert.Contains(t, err.Error(), "GET /user")

	err = txnError("create route", r, ops, fail(1))
	assert.ErrorIs(t, err, errcode.APIAlreadyExist)
	assert.Contains(t, err.Error(), "id-1")

	upd := updateOps(r, rule("id-1", "GET", "/x"), 3, nil)
	assert.ErrorIs(t, txnError("update route", r, upd, fail(0)), errcode.StoreFailed)
	assert.ErrorIs(t, txnError("create route", r, ops, nil), errcode.StoreFailed)
}
