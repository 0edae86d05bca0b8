package model

import (
	"context"
	"testing"

	cn "github.com/LerianStudio/lib-norm/constant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func partnerDeclaration() *Declaration {
	return &Declaration{
		Name:       "res.partner",
		Collection: "partners",
		Fields: []*Field{
			{Name: "name", Kind: KindString, Required: true},
			{Name: "email", Kind: KindString},
			{Name: "region", Kind: KindString},
		},
	}
}

func orderDeclaration() *Declaration {
	return &Declaration{
		Name:       "sale.order",
		Collection: "orders",
		Fields: []*Field{
			{Name: "reference", Kind: KindString, Required: true},
			{Name: "customer", Kind: KindMany2One, Relation: &RelationSpec{Model: "res.partner"}},
			{Name: "region", Kind: KindString},
			{Name: "amount", Kind: KindFloat},
		},
	}
}

func TestBuildRegistry_InheritanceMergesFields(t *testing.T) {
	t.Parallel()

	base := &Declaration{
		Name: "base.entity",
		Fields: []*Field{
			{Name: "name", Kind: KindString},
			{Name: "active", Kind: KindBoolean},
		},
	}

	child := &Declaration{
		Name:         "crm.lead",
		InheritsFrom: []string{"base.entity"},
		Fields: []*Field{
			{Name: "stage", Kind: KindString},
		},
	}

	r, err := BuildRegistry([]*Declaration{child, base})
	require.NoError(t, err)

	m, err := r.Model("crm.lead")
	require.NoError(t, err)

	_, ok := m.Field("name")
	assert.True(t, ok)
	_, ok = m.Field("active")
	assert.True(t, ok)
	_, ok = m.Field("stage")
	assert.True(t, ok)
}

func TestBuildRegistry_IncompatibleOverrideRejected(t *testing.T) {
	t.Parallel()

	base := &Declaration{
		Name:   "base.entity",
		Fields: []*Field{{Name: "name", Kind: KindString}},
	}

	child := &Declaration{
		Name:         "crm.lead",
		InheritsFrom: []string{"base.entity"},
		Fields:       []*Field{{Name: "name", Kind: KindInteger}},
	}

	_, err := BuildRegistry([]*Declaration{base, child})
	require.Error(t, err)

	var regErr RegistryError
	require.ErrorAs(t, err, &regErr)
	assert.ErrorIs(t, regErr, cn.ErrRegistryIncompatibleOverride)
}

func TestBuildRegistry_ExplicitOverrideAccepted(t *testing.T) {
	t.Parallel()

	base := &Declaration{
		Name:   "base.entity",
		Fields: []*Field{{Name: "name", Kind: KindString}},
	}

	child := &Declaration{
		Name:         "crm.lead",
		InheritsFrom: []string{"base.entity"},
		Fields:       []*Field{{Name: "name", Kind: KindInteger, Override: true}},
	}

	r, err := BuildRegistry([]*Declaration{base, child})
	require.NoError(t, err)

	m, _ := r.Model("crm.lead")
	f, _ := m.Field("name")
	assert.Equal(t, KindInteger, f.Kind)
}

func TestBuildRegistry_UnresolvedParent(t *testing.T) {
	t.Parallel()

	child := &Declaration{
		Name:         "crm.lead",
		InheritsFrom: []string{"base.missing"},
	}

	_, err := BuildRegistry([]*Declaration{child})
	require.Error(t, err)
	assert.ErrorIs(t, err, cn.ErrRegistryUnresolvedParent)
}

func TestBuildRegistry_DelegationInjectsRelatedFields(t *testing.T) {
	t.Parallel()

	user := &Declaration{
		Name: "res.user",
		DelegatesTo: map[string]string{
			"res.partner": "partner",
		},
		Fields: []*Field{
			{Name: "login", Kind: KindString, Required: true},
			{Name: "partner", Kind: KindMany2One, Relation: &RelationSpec{Model: "res.partner"}},
		},
	}

	r, err := BuildRegistry([]*Declaration{user, partnerDeclaration()})
	require.NoError(t, err)

	m, err := r.Model("res.user")
	require.NoError(t, err)

	email, ok := m.Field("email")
	require.True(t, ok)
	assert.Equal(t, "partner.email", email.RelatedPath)
	assert.Equal(t, KindString, email.Kind)

	// Local fields are never shadowed by delegation.
	login, _ := m.Field("login")
	assert.Empty(t, login.RelatedPath)
}

func TestBuildRegistry_ComputeCycleRejected(t *testing.T) {
	t.Parallel()

	noop := func(ctx context.Context, recs RecordBatch) error { return nil }

	decl := &Declaration{
		Name: "acc.move",
		Fields: []*Field{
			{Name: "total", Kind: KindFloat, Compute: &ComputeSpec{Handler: noop, DependsOn: []string{"residual"}, Store: true}},
			{Name: "residual", Kind: KindFloat, Compute: &ComputeSpec{Handler: noop, DependsOn: []string{"total"}, Store: true}},
		},
	}

	_, err := BuildRegistry([]*Declaration{decl})
	require.Error(t, err)
	assert.ErrorIs(t, err, cn.ErrRegistryDependencyCycle)
}

func TestBuildRegistry_ComputeUnknownDependency(t *testing.T) {
	t.Parallel()

	noop := func(ctx context.Context, recs RecordBatch) error { return nil }

	decl := &Declaration{
		Name: "acc.move",
		Fields: []*Field{
			{Name: "total", Kind: KindFloat, Compute: &ComputeSpec{Handler: noop, DependsOn: []string{"ghost"}, Store: true}},
		},
	}

	_, err := BuildRegistry([]*Declaration{decl})
	require.Error(t, err)
	assert.ErrorIs(t, err, cn.ErrRegistryAmbiguousFieldPath)
}

func TestBuildRegistry_MissingInverseRejected(t *testing.T) {
	t.Parallel()

	order := orderDeclaration()
	partner := partnerDeclaration()
	partner.Fields = append(partner.Fields, &Field{
		Name:     "orders",
		Kind:     KindOne2Many,
		Relation: &RelationSpec{Model: "sale.order"},
	})

	_, err := BuildRegistry([]*Declaration{order, partner})
	require.Error(t, err)
	assert.ErrorIs(t, err, cn.ErrRegistryMissingInverse)
}

func TestBuildRegistry_InverseResolves(t *testing.T) {
	t.Parallel()

	order := orderDeclaration()
	partner := partnerDeclaration()
	partner.Fields = append(partner.Fields, &Field{
		Name:     "orders",
		Kind:     KindOne2Many,
		Relation: &RelationSpec{Model: "sale.order", Inverse: "customer"},
	})

	r, err := BuildRegistry([]*Declaration{order, partner})
	require.NoError(t, err)

	_, f, err := r.ResolvePath("sale.order", "customer.name")
	require.NoError(t, err)
	assert.Equal(t, "name", f.Name)
}

func TestBuildRegistry_InheritanceCycle(t *testing.T) {
	t.Parallel()

	a := &Declaration{Name: "model.a", InheritsFrom: []string{"model.b"}}
	b := &Declaration{Name: "model.b", InheritsFrom: []string{"model.a"}}

	_, err := BuildRegistry([]*Declaration{a, b})
	require.Error(t, err)
	assert.ErrorIs(t, err, cn.ErrRegistryDependencyCycle)
}

func TestRegistry_ResolvePathErrors(t *testing.T) {
	t.Parallel()

	r, err := BuildRegistry([]*Declaration{orderDeclaration(), partnerDeclaration()})
	require.NoError(t, err)

	_, _, err = r.ResolvePath("sale.order", "ghost")
	assert.Error(t, err)

	// Traversal through a non-relational field fails.
	_, _, err = r.ResolvePath("sale.order", "region.name")
	assert.Error(t, err)
}

func TestRegistry_DependentsOf(t *testing.T) {
	t.Parallel()

	noop := func(ctx context.Context, recs RecordBatch) error { return nil }

	decl := &Declaration{
		Name: "acc.move",
		Fields: []*Field{
			{Name: "quantity", Kind: KindInteger},
			{Name: "price", Kind: KindFloat},
			{Name: "total", Kind: KindFloat, Compute: &ComputeSpec{Handler: noop, DependsOn: []string{"quantity", "price"}, Store: true}},
		},
	}

	r, err := BuildRegistry([]*Declaration{decl})
	require.NoError(t, err)

	assert.Equal(t, []string{"total"}, r.DependentsOf("acc.move", "quantity"))
	assert.Equal(t, []string{"total"}, r.DependentsOf("acc.move", "price"))
	assert.Empty(t, r.DependentsOf("acc.move", "total"))
}
