package database

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/blevesearch/bleve"
)

// problemDocument is the shape of a problem in the bleve index
type problemDocument struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Severity    string `json:"severity"`
}

// SetupSearchDB sets up new bleve or opens existing
func SetupSearchDB(indexPath string) (bleve.Index, error) {
	Logger.Info("Creating bleve index mapping")
	mapping := bleve.NewIndexMapping()
	var index bleve.Index
	_, err := os.Stat(filepath.Clean(indexPath))
	if os.IsNotExist(err) {
		Logger.Info("Creating new bleve index", "path", indexPath)
		index, err = bleve.New(filepath.Clean(indexPath), mapping)
		if err != nil {
			Logger.Error("Failed to create bleve index", "error", err)
			return index, err
		}
	} else {
		Logger.Info("Opening existing bleve index", "path", indexPath)
		index, err = bleve.Open(filepath.Clean(indexPath))
		if err != nil {
			Logger.Error("Failed to open bleve index", "error", err)
			return index, err
		}
	}
	return index, nil
}

// IndexProblem adds or replaces a problem in the search index
func IndexProblem(problem *Problem, searchDB bleve.Index) error {
	return searchDB.Index(strconv.FormatInt(problem.ID, 10), problemDocument{
		Summary:     problem.Summary,
		Description: problem.Description,
		Type:        problem.Type,
		Severity:    problem.Severity,
	})
}

// SearchProblems returns the IDs of the best matching problems for term
func SearchProblems(term string, limit int, searchDB bleve.Index) ([]int64, error) {
	query := bleve.NewMatchQuery(term)
	request := bleve.NewSearchRequestOptions(query, limit, 0, false)
	result, err := searchDB.Search(request)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(result.Hits))
	for _, hit := range result.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			Logger.Warn("Skipping search hit with invalid id", "id", hit.ID)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
