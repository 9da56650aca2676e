package dte

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passport-gateway/internal/credential"
	"passport-gateway/internal/dte/models"
	dErrors "passport-gateway/pkg/domain-errors"
	"passport-gateway/pkg/testutil"
)

func TestExtractProductRoles(t *testing.T) {
	event := &credential.EventBody{
		EventID:   "evt-1",
		EventType: "aggregation",
		Outputs:   []credential.ProductRef{{ProductID: "out-1"}, {ProductID: "out-1"}},
		Inputs:    []credential.ProductRef{{ProductID: "in-1"}},
		EPCList:   []string{"epc-1", ""},
		Parent:    &credential.ProductRef{ProductID: "parent-1"},
		Children:  []credential.ProductRef{{ProductID: "child-1"}, {ProductID: "child-2"}},
		Quantity:  []credential.QuantityRef{{ProductID: "in-1", Quantity: 2}},
	}

	refs := ExtractProductRoles(event)

	want := []models.ProductRole{
		{ProductID: "out-1", Role: models.RoleOutput},
		{ProductID: "in-1", Role: models.RoleInput},
		{ProductID: "epc-1", Role: models.RoleEPC},
		{ProductID: "parent-1", Role: models.RoleParent},
		{ProductID: "child-1", Role: models.RoleChild},
		{ProductID: "child-2", Role: models.RoleChild},
		{ProductID: "in-1", Role: models.RoleQuantity},
	}
	assert.Equal(t, want, refs)
	assert.Nil(t, ExtractProductRoles(nil))
}

func TestPolicyCheckedRoles(t *testing.T) {
	assert.True(t, models.RoleOutput.PolicyChecked())
	assert.True(t, models.RoleEPC.PolicyChecked())
	assert.True(t, models.RoleParent.PolicyChecked())
	assert.False(t, models.RoleInput.PolicyChecked())
	assert.False(t, models.RoleChild.PolicyChecked())
	assert.False(t, models.RoleQuantity.PolicyChecked())
}

func TestEnforcerCheck(t *testing.T) {
	ctx := context.Background()

	// Owner of widget-1 trusts supplier S1 but not S2.
	directory := TrustDirectoryFunc(func(_ context.Context, productID string) ([]string, error) {
		switch productID {
		case "widget-1":
			return []string{"did:web:s1.example.com"}, nil
		case "widget-open":
			return []string{"did:web:s1.example.com", "did:web:s2.example.com"}, nil
		default:
			return nil, errors.New("owner unknown")
		}
	})
	enforcer := NewEnforcer(directory)

	testutil.Given(t, "a product whose owner trusts only supplier one", func(t *testing.T) {
		testutil.When(t, "supplier one claims it as an output", func(t *testing.T) {
			err := enforcer.Check(ctx, "did:web:s1.example.com", &credential.EventBody{
				Outputs: []credential.ProductRef{{ProductID: "widget-1"}},
			})
			testutil.Then(t, "the event is allowed", func(t *testing.T) {
				require.NoError(t, err)
			})
		})

		testutil.When(t, "supplier two claims it as an output", func(t *testing.T) {
			err := enforcer.Check(ctx, "did:web:s2.example.com", &credential.EventBody{
				Outputs: []credential.ProductRef{{ProductID: "widget-1"}},
			})
			testutil.Then(t, "the event is rejected", func(t *testing.T) {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeNotAllowlisted))
			})
		})

		testutil.When(t, "supplier two only consumes it as an input", func(t *testing.T) {
			err := enforcer.Check(ctx, "did:web:s2.example.com", &credential.EventBody{
				Inputs: []credential.ProductRef{{ProductID: "widget-1"}},
			})
			testutil.Then(t, "no policy applies and the event is allowed", func(t *testing.T) {
				require.NoError(t, err)
			})
		})
	})

	t.Run("parent and epc references are policy checked", func(t *testing.T) {
		err := enforcer.Check(ctx, "did:web:s2.example.com", &credential.EventBody{
			Parent: &credential.ProductRef{ProductID: "widget-1"},
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotAllowlisted))

		err = enforcer.Check(ctx, "did:web:s2.example.com", &credential.EventBody{
			EPCList: []string{"widget-1"},
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotAllowlisted))
	})

	t.Run("unresolvable only when every product is unresolvable", func(t *testing.T) {
		err := enforcer.Check(ctx, "did:web:s1.example.com", &credential.EventBody{
			Outputs: []credential.ProductRef{{ProductID: "ghost-1"}, {ProductID: "ghost-2"}},
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAllowlistUnresolvable))

		// One resolvable product that allows the issuer carries the event.
		err = enforcer.Check(ctx, "did:web:s1.example.com", &credential.EventBody{
			Outputs: []credential.ProductRef{{ProductID: "ghost-1"}, {ProductID: "widget-1"}},
		})
		assert.NoError(t, err)
	})

	t.Run("a rejection wins over unresolvable products", func(t *testing.T) {
		err := enforcer.Check(ctx, "did:web:s2.example.com", &credential.EventBody{
			Outputs: []credential.ProductRef{{ProductID: "ghost-1"}, {ProductID: "widget-1"}},
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotAllowlisted))
	})

	t.Run("event with no policy checked products passes", func(t *testing.T) {
		err := enforcer.Check(ctx, "did:web:s2.example.com", &credential.EventBody{
			Inputs: []credential.ProductRef{{ProductID: "ghost-1"}},
		})
		assert.NoError(t, err)
	})
}
