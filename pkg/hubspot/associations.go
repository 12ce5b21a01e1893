package hubspot

import (
	"context"
)

// batchInput identifies one object in a batch read request.
type batchInput struct {
	ID string `json:"id"`
}

// associationsRequest is the associations batch read body.
type associationsRequest struct {
	Inputs []batchInput `json:"inputs"`
}

// batchReadRequest is the v3 objects batch read body.
type batchReadRequest struct {
	Inputs                []batchInput `json:"inputs"`
	Properties            []string     `json:"properties,omitempty"`
	PropertiesWithHistory []string     `json:"propertiesWithHistory,omitempty"`
}

// Associations fetches associated object ids for a set of source objects,
// chunking requests so batches stay under the API's input limits. The result
// maps each source id to a list of {"id": ...} references, the shape records
// embed under their associations key.
func (c *Client) Associations(ctx context.Context, fromType, toType string, ids []string, chunkSize int) (map[string][]map[string]interface{}, error) {
	if chunkSize <= 0 {
		chunkSize = 100
	}

	out := make(map[string][]map[string]interface{}, len(ids))
	path := "/crm/v3/associations/" + fromType + "/" + toType + "/batch/read"

	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}

		inputs := make([]batchInput, 0, end-start)
		for _, id := range ids[start:end] {
			inputs = append(inputs, batchInput{ID: id})
		}

		var envelope map[string]interface{}
		if err := c.Post(ctx, path, associationsRequest{Inputs: inputs}, &envelope); err != nil {
			return nil, err
		}

		results, err := extractItems(envelope, "results", path)
		if err != nil {
			return nil, err
		}

		for _, result := range results {
			from, ok := result["from"].(map[string]interface{})
			if !ok {
				continue
			}
			fromID, _ := scalarString(from["id"])
			if fromID == "" {
				continue
			}

			toList, _ := result["to"].([]interface{})
			for _, entry := range toList {
				to, ok := entry.(map[string]interface{})
				if !ok {
					continue
				}
				if toID, ok := scalarString(to["id"]); ok && toID != "" {
					out[fromID] = append(out[fromID], map[string]interface{}{"id": toID})
				}
			}
		}
	}

	return out, nil
}

// PropertyHistory fetches versioned values of the given properties for a set
// of objects via batch read, chunked. The result maps each object id to its
// propertiesWithHistory payload.
func (c *Client) PropertyHistory(ctx context.Context, objectType string, ids []string, properties []string, chunkSize int) (map[string]interface{}, error) {
	if chunkSize <= 0 {
		chunkSize = 50
	}

	out := make(map[string]interface{}, len(ids))
	path := "/crm/v3/objects/" + objectType + "/batch/read"

	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}

		inputs := make([]batchInput, 0, end-start)
		for _, id := range ids[start:end] {
			inputs = append(inputs, batchInput{ID: id})
		}

		req := batchReadRequest{
			Inputs:                inputs,
			Properties:            properties,
			PropertiesWithHistory: properties,
		}

		var envelope map[string]interface{}
		if err := c.Post(ctx, path, req, &envelope); err != nil {
			return nil, err
		}

		results, err := extractItems(envelope, "results", path)
		if err != nil {
			return nil, err
		}

		for _, result := range results {
			id, _ := scalarString(result["id"])
			if id == "" {
				continue
			}
			if history, ok := result["propertiesWithHistory"]; ok {
				out[id] = history
			}
		}
	}

	return out, nil
}

// ObjectProperties returns the names of all defined properties for an object
// type, used to request full records from list and search endpoints.
func (c *Client) ObjectProperties(ctx context.Context, objectType string) ([]string, error) {
	path := "/crm/v3/properties/" + objectType

	var envelope map[string]interface{}
	if err := c.Get(ctx, path, nil, &envelope); err != nil {
		return nil, err
	}

	results, err := extractItems(envelope, "results", path)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(results))
	for _, result := range results {
		if name, ok := result["name"].(string); ok && name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}
