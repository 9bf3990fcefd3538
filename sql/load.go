package sql

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"
)

//go:embed init.sql
var initSQL string

//go:embed entities.sql
var entitiesSQL string

//go:embed aliases.sql
var aliasesSQL string

//go:embed mentions.sql
var mentionsSQL string

//go:embed reviews.sql
var reviewsSQL string

//go:embed merges.sql
var mergesSQL string

//go:embed edges.sql
var edgesSQL string

// Function lists for verification
var EntitiesFunctions = []string{
	"init_entities",
	"insert_entity",
	"insert_entity_with_canonical_id",
	"select_entity",
	"select_entities_by_canonical_id",
	"select_entities_by_type",
	"select_entities_by_similarity",
	"select_index_entries",
	"update_entity",
	"update_entity_embedding",
	"delete_entity",
}

var AliasesFunctions = []string{
	"init_aliases",
	"upsert_alias",
	"select_aliases_by_entity",
	"select_aliases_by_normalized_text",
	"delete_alias",
}

var MentionsFunctions = []string{
	"init_mentions",
	"insert_mention",
	"select_mention_by_key",
	"select_mentions_by_entity",
}

var ReviewsFunctions = []string{
	"init_reviews",
	"upsert_review_item",
	"select_review_item_by_entity",
	"select_pending_review_items",
	"resolve_review_item",
}

var MergesFunctions = []string{
	"init_merges",
	"merge_entity",
	"select_merge_operations_by_entity",
}

var EdgesFunctions = []string{
	"init_edges",
	"insert_edge",
	"select_edge",
	"select_edges_from_entity",
	"select_edges_to_entity",
	"update_edge_weight",
	"delete_edge",
	"relink_entity_edges",
}

// Init intializes db extensions
func Init(db *sql.DB) error {
	_, err := db.Exec(initSQL)
	if err != nil {
		return fmt.Errorf("error executing schema SQL: %w", err)
	}

	log.Println("Database extensions initialized successfully")
	return nil
}

// LoadEntitiesSql loads entity-related SQL functions
func LoadEntitiesSql(db *sql.DB, force bool) error {
	return loadFunctions(db, "entities", entitiesSQL, EntitiesFunctions, force)
}

// LoadAliasesSql loads alias-related SQL functions
func LoadAliasesSql(db *sql.DB, force bool) error {
	return loadFunctions(db, "aliases", aliasesSQL, AliasesFunctions, force)
}

// LoadMentionsSql loads mention-related SQL functions
func LoadMentionsSql(db *sql.DB, force bool) error {
	return loadFunctions(db, "mentions", mentionsSQL, MentionsFunctions, force)
}

// LoadReviewsSql loads review queue SQL functions
func LoadReviewsSql(db *sql.DB, force bool) error {
	return loadFunctions(db, "reviews", reviewsSQL, ReviewsFunctions, force)
}

// LoadMergesSql loads merge-related SQL functions
func LoadMergesSql(db *sql.DB, force bool) error {
	return loadFunctions(db, "merges", mergesSQL, MergesFunctions, force)
}

// LoadEdgesSql loads edge-related SQL functions
func LoadEdgesSql(db *sql.DB, force bool) error {
	return loadFunctions(db, "edges", edgesSQL, EdgesFunctions, force)
}

// LoadAllSql loads all SQL functions
func LoadAllSql(db *sql.DB, force bool) error {
	loaders := []func(*sql.DB, bool) error{
		LoadEntitiesSql,
		LoadAliasesSql,
		LoadMentionsSql,
		LoadReviewsSql,
		LoadMergesSql,
		LoadEdgesSql,
	}
	for _, load := range loaders {
		if err := load(db, force); err != nil {
			return err
		}
	}
	return nil
}

func loadFunctions(db *sql.DB, name string, sqlText string, functions []string, force bool) error {
	if !force {
		exist, err := checkFunctions(db, functions)
		if err != nil {
			return fmt.Errorf("error checking existing %s functions: %w", name, err)
		}
		if exist {
			return nil
		}
	}

	_, err := db.Exec(sqlText)
	if err != nil {
		return fmt.Errorf("error executing %s SQL: %w", name, err)
	}

	exist, err := checkFunctions(db, functions)
	if err != nil {
		return fmt.Errorf("error checking existing functions: %w", err)
	}
	if !exist {
		return fmt.Errorf("not all required SQL functions were created")
	}

	log.Printf("SQL %s functions loaded successfully", name)
	return nil
}

// checkFunctions verifies that all required functions exist in the database
func checkFunctions(db *sql.DB, sqlFunctions []string) (bool, error) {
	var allExist bool
	for _, f := range sqlFunctions {
		err := db.QueryRow(
			`SELECT EXISTS(SELECT 1 FROM pg_proc WHERE proname = $1);`,
			f,
		).Scan(&allExist)
		if err != nil {
			return false, fmt.Errorf("error checking existence of function %s: %w", f, err)
		}
		if !allExist {
			log.Printf("Function %s does not exist", f)
			break
		}
	}
	return allExist, nil
}
