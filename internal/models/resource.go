package models

import (
	"fmt"
	"strings"
)

// ResourceType selects the server collection a command operates on.
type ResourceType string

const (
	Datasets ResourceType = "datasets"
	Queries  ResourceType = "queries"
	Jobs     ResourceType = "jobs"
)

// ParseResourceType accepts the one-letter form used on the command line
// (d, q, j) as well as the collection name.
func ParseResourceType(s string) (ResourceType, error) {
	switch strings.ToLower(s) {
	case "d", "dataset", "datasets":
		return Datasets, nil
	case "q", "query", "queries":
		return Queries, nil
	case "j", "job", "jobs":
		return Jobs, nil
	default:
		return "", fmt.Errorf("unknown resource type %q (expected d, q or j)", s)
	}
}

// Resource is one entry of a dataset, query or job listing.
type Resource struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Owner       string `json:"owner"`
	Public      bool   `json:"public"`
	Description string `json:"description,omitempty"`
	Created     string `json:"created,omitempty"`
	// Status is only set for jobs.
	Status string `json:"status,omitempty"`
}

// Job is the server's view of a single job.
type Job struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Owner     string  `json:"owner"`
	Status    string  `json:"status"`
	Public    bool    `json:"public"`
	DatasetID int64   `json:"datasetId"`
	QueryIDs  []int64 `json:"queryIds"`
	Traversal string  `json:"traversal,omitempty"`
	Timeout   int64   `json:"timeout,omitempty"`
	MemoryGiB float64 `json:"memory,omitempty"`
	Created   string  `json:"created,omitempty"`
}

// Traversal is the direction a job walks the dataset.
type Traversal string

const (
	TraverseForward Traversal = "f"
	TraverseReverse Traversal = "r"
	TraverseBoth    Traversal = "b"
)

// ParseTraversal validates a traversal literal.
func ParseTraversal(s string) (Traversal, error) {
	switch Traversal(strings.ToLower(s)) {
	case TraverseForward, TraverseReverse, TraverseBoth:
		return Traversal(strings.ToLower(s)), nil
	default:
		return "", fmt.Errorf("unknown traversal %q (expected f, r or b)", s)
	}
}
