package elastic

import (
	"math"

	"github.com/denismitr/esobs/internal/docstore"
)

type M = docstore.M

// queryDSL translates a docstore query into a bool filter. Filter context
// skips scoring, which scrolls never use.
func queryDSL(q docstore.Query) M {
	if q.IsEmpty() {
		return M{"match_all": M{}}
	}

	filters := make([]interface{}, 0, len(q.Terms)+len(q.Ranges)+1)

	if len(q.IDs) > 0 {
		filters = append(filters, M{"ids": M{"values": q.IDs}})
	}

	for _, t := range q.Terms {
		if !t.HasWildcards() {
			filters = append(filters, M{"terms": M{t.Field: t.Values}})
			continue
		}

		should := make([]interface{}, 0, len(t.Values))
		for _, v := range t.Values {
			if (docstore.Term{Values: []string{v}}).HasWildcards() {
				should = append(should, M{"wildcard": M{t.Field: M{"value": v}}})
			} else {
				should = append(should, M{"term": M{t.Field: v}})
			}
		}
		filters = append(filters, M{"bool": M{"should": should, "minimum_should_match": 1}})
	}

	for _, r := range q.Ranges {
		if math.IsNaN(r.From) || math.IsNaN(r.To) {
			filters = append(filters, M{"match_none": M{}})
			continue
		}

		bounds := M{}
		if !math.IsInf(r.From, -1) {
			bounds["gte"] = r.From
		}
		if !math.IsInf(r.To, 1) {
			bounds["lte"] = r.To
		}
		filters = append(filters, M{"range": M{r.Field: bounds}})
	}

	return M{"bool": M{"filter": filters}}
}

func sortDSL(by []docstore.Sort) []interface{} {
	if len(by) == 0 {
		// index order is the cheapest order to scroll in
		return []interface{}{"_doc"}
	}

	out := make([]interface{}, 0, len(by))
	for _, s := range by {
		order := "asc"
		if s.Desc {
			order = "desc"
		}
		out = append(out, M{s.Field: M{"order": order}})
	}
	return out
}
