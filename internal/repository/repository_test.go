package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aggload/internal/dbexec"
	"aggload/internal/extract"
	"aggload/internal/naming"
	"aggload/internal/queryplan"
	"aggload/internal/schema"
	"aggload/internal/structure"
)

func orderAggregate(t *testing.T) *schema.Entity {
	t.Helper()
	e := &schema.Entity{
		Name:       "Order",
		IDProperty: "id",
		Properties: []schema.Property{
			{Name: "id"},
			{Name: "customerName"},
			{Name: "lineItems", Kind: schema.KindList, Target: &schema.Entity{
				Name:       "LineItem",
				IDProperty: "id",
				Properties: []schema.Property{
					{Name: "id"},
					{Name: "productCode"},
				},
			}},
		},
	}
	e.ApplyDefaults(naming.NewNamer(naming.DefaultConfig()))
	require.NoError(t, e.Validate())
	return e
}

// parallelPlan rebuilds the same aggregate pipeline the repository
// prepares internally. Alias assignment is deterministic, so the plan's
// aliases match the repository's and supply the mock result columns.
func parallelPlan(t *testing.T, root *schema.Entity) *extract.Plan {
	t.Helper()
	b, mapping, err := structure.FromEntity(root)
	require.NoError(t, err)
	node, err := b.Build()
	require.NoError(t, err)
	sel := queryplan.CreateSelect(node, b.RootTable())
	plan, err := extract.NewPlan(node, mapping, sel.Aliases())
	require.NoError(t, err)
	return plan
}

func scalarAlias(t *testing.T, p *extract.EntityPlan, property string) string {
	t.Helper()
	for _, s := range p.Scalars {
		if s.Property == property {
			return s.Alias
		}
	}
	t.Fatalf("no scalar %q in plan for %s", property, p.Entity.Name)
	return ""
}

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(dbexec.NewStandardExecutor(db)), mock
}

func TestRepository_FindAll(t *testing.T) {
	root := orderAggregate(t)
	plan := parallelPlan(t, root)
	idAlias := scalarAlias(t, plan.Root, "id")
	nameAlias := scalarAlias(t, plan.Root, "customerName")
	elem := plan.Root.Collections[0].Elem
	itemCode := scalarAlias(t, elem, "productCode")

	repo, mock := newMockRepository(t)

	columns := []string{plan.RootKeyAlias, idAlias, nameAlias, elem.PresenceAlias, itemCode}
	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows(columns).
			AddRow(int64(1), int64(1), "alice", int64(10), "A").
			AddRow(int64(1), nil, nil, int64(11), "B").
			AddRow(int64(2), int64(2), "bob", nil, nil),
	)

	results, err := repo.FindAll(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, results, 2)

	first := results[0].(map[string]any)
	assert.Equal(t, "alice", first["customerName"])
	items := first["lineItems"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "A", items[0].(map[string]any)["productCode"])
	assert.Equal(t, "B", items[1].(map[string]any)["productCode"])

	second := results[1].(map[string]any)
	assert.Equal(t, "bob", second["customerName"])
	assert.Empty(t, second["lineItems"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_FindByID(t *testing.T) {
	root := orderAggregate(t)
	plan := parallelPlan(t, root)
	idAlias := scalarAlias(t, plan.Root, "id")
	nameAlias := scalarAlias(t, plan.Root, "customerName")
	elem := plan.Root.Collections[0].Elem

	t.Run("found", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectQuery("SELECT").WithArgs(int64(1)).WillReturnRows(
			sqlmock.NewRows([]string{plan.RootKeyAlias, idAlias, nameAlias, elem.PresenceAlias}).
				AddRow(int64(1), int64(1), "alice", nil),
		)

		result, err := repo.FindByID(context.Background(), root, int64(1))
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, "alice", result.(map[string]any)["customerName"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("absent id yields nil, not an error", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectQuery("SELECT").WithArgs(int64(99)).WillReturnRows(
			sqlmock.NewRows([]string{plan.RootKeyAlias, idAlias, nameAlias, elem.PresenceAlias}),
		)

		result, err := repo.FindByID(context.Background(), root, int64(99))
		require.NoError(t, err)
		assert.Nil(t, result)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_FindAllByID(t *testing.T) {
	root := orderAggregate(t)
	plan := parallelPlan(t, root)
	idAlias := scalarAlias(t, plan.Root, "id")
	nameAlias := scalarAlias(t, plan.Root, "customerName")
	elem := plan.Root.Collections[0].Elem

	repo, mock := newMockRepository(t)
	mock.ExpectQuery("SELECT").WithArgs(int64(1), int64(2)).WillReturnRows(
		sqlmock.NewRows([]string{plan.RootKeyAlias, idAlias, nameAlias, elem.PresenceAlias}).
			AddRow(int64(1), int64(1), "alice", nil).
			AddRow(int64(2), int64(2), "bob", nil),
	)

	results, err := repo.FindAllByID(context.Background(), root, int64(1), int64(2))
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_SQL(t *testing.T) {
	root := orderAggregate(t)
	repo, _ := newMockRepository(t)

	sql, err := repo.SQL(context.Background(), root)
	require.NoError(t, err)
	assert.Contains(t, sql, "FULL OUTER JOIN")
	assert.Contains(t, sql, "FROM `orders`")
	assert.Contains(t, sql, "ROW_NUMBER() OVER")
}

func TestRepository_PrepareCachesPerAggregate(t *testing.T) {
	root := orderAggregate(t)
	repo, _ := newMockRepository(t)

	require.NoError(t, repo.Prepare(context.Background(), root))
	require.NoError(t, repo.Prepare(context.Background(), root))

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Len(t, repo.prepared, 1)
}

func TestRepository_PrepareRejectsInvalidMapping(t *testing.T) {
	repo, _ := newMockRepository(t)
	invalid := &schema.Entity{Name: "Broken", Table: "broken"}

	err := repo.Prepare(context.Background(), invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid aggregate mapping")
}

func TestRepository_QueryErrorPropagates(t *testing.T) {
	root := orderAggregate(t)
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("SELECT").WillReturnError(assert.AnError)

	_, err := repo.FindAll(context.Background(), root)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}
