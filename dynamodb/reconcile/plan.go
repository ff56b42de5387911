package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/acksell/ddbmodel/dynamodb/ddberrors"
	"github.com/acksell/ddbmodel/dynamodb/schema"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Plan is the set of changes that brings a live table in line with its schema.
type Plan struct {
	TableName string
	// Throughput is the new table throughput, nil when unchanged.
	Throughput *schema.Throughput
	Creates    []schema.IndexSpec
	Updates    []schema.IndexSpec
	Deletes    []string
	// AttributeDefinitions covers the key attributes of the created indexes.
	AttributeDefinitions []types.AttributeDefinition
}

// Empty reports whether the plan changes nothing.
func (p Plan) Empty() bool {
	return p.Throughput == nil && len(p.Creates) == 0 && len(p.Updates) == 0 && len(p.Deletes) == 0
}

func (p Plan) String() string {
	if p.Empty() {
		return fmt.Sprintf("%s: up to date", p.TableName)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s:", p.TableName)
	if p.Throughput != nil {
		fmt.Fprintf(&b, "\n  ~ throughput read=%d write=%d", p.Throughput.Read, p.Throughput.Write)
	}
	for _, idx := range p.Creates {
		fmt.Fprintf(&b, "\n  + index %s (%s) read=%d write=%d", idx.Name, partsString(idx.Parts), idx.Throughput.Read, idx.Throughput.Write)
	}
	for _, idx := range p.Updates {
		fmt.Fprintf(&b, "\n  ~ index %s read=%d write=%d", idx.Name, idx.Throughput.Read, idx.Throughput.Write)
	}
	for _, name := range p.Deletes {
		fmt.Fprintf(&b, "\n  - index %s", name)
	}
	return b.String()
}

func partsString(parts []schema.KeyPart) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, fmt.Sprintf("%s %s", p.Name, p.Role))
	}
	return strings.Join(out, ", ")
}

// Diff compares the declared schema with a live table description.
// It fails when the primary keys differ. Local index drift is ignored.
func Diff(ts *schema.TableSchema, live *types.TableDescription, throughput *schema.Throughput) (Plan, error) {
	plan := Plan{TableName: ts.TableName}
	if live == nil {
		return plan, fmt.Errorf("table %s: no description", ts.TableName)
	}

	declared := keyStrings(schema.KeySchema(ts.PrimaryKey))
	current := keyStrings(live.KeySchema)
	if !equalStrings(declared, current) {
		return plan, &ddberrors.UpdateTableError{Table: ts.TableName, Declared: declared, Live: current}
	}

	if throughput != nil && !sameThroughput(*throughput, live.ProvisionedThroughput) {
		t := *throughput
		plan.Throughput = &t
	}

	liveGSIs := make(map[string]types.GlobalSecondaryIndexDescription, len(live.GlobalSecondaryIndexes))
	for _, gsi := range live.GlobalSecondaryIndexes {
		liveGSIs[aws.ToString(gsi.IndexName)] = gsi
	}
	declaredGSIs := make(map[string]bool, len(ts.GlobalIndexes))
	for _, idx := range ts.GlobalIndexes {
		declaredGSIs[idx.Name] = true
		gsi, ok := liveGSIs[idx.Name]
		if !ok {
			plan.Creates = append(plan.Creates, idx)
			continue
		}
		if !sameThroughput(idx.Throughput, gsi.ProvisionedThroughput) {
			plan.Updates = append(plan.Updates, idx)
		}
	}
	for name := range liveGSIs {
		if !declaredGSIs[name] {
			plan.Deletes = append(plan.Deletes, name)
		}
	}
	sort.Strings(plan.Deletes)

	plan.AttributeDefinitions = createdAttributes(ts, plan.Creates)
	return plan, nil
}

func createdAttributes(ts *schema.TableSchema, creates []schema.IndexSpec) []types.AttributeDefinition {
	var out []types.AttributeDefinition
	seen := make(map[string]bool)
	for _, idx := range creates {
		for _, p := range idx.Parts {
			if seen[p.Name] {
				continue
			}
			seen[p.Name] = true
			out = append(out, types.AttributeDefinition{AttributeName: aws.String(p.Name), AttributeType: p.Type})
		}
	}
	return out
}

func keyStrings(ks []types.KeySchemaElement) []string {
	out := make([]string, 0, len(ks))
	for _, el := range ks {
		out = append(out, fmt.Sprintf("%s %s", aws.ToString(el.AttributeName), el.KeyType))
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameThroughput(want schema.Throughput, live *types.ProvisionedThroughputDescription) bool {
	if live == nil {
		return false
	}
	return aws.ToInt64(live.ReadCapacityUnits) == want.Read && aws.ToInt64(live.WriteCapacityUnits) == want.Write
}

// Requests returns the UpdateTable calls that apply the plan, throughput first.
// Each index change gets its own call, creates then updates then deletes,
// unless batched is set, in which case they share one call.
func (p Plan) Requests(batched bool) []*dynamodb.UpdateTableInput {
	var out []*dynamodb.UpdateTableInput
	if p.Throughput != nil {
		out = append(out, &dynamodb.UpdateTableInput{
			TableName:             aws.String(p.TableName),
			ProvisionedThroughput: p.Throughput.Provisioned(),
		})
	}

	var creates, updates, deletes []types.GlobalSecondaryIndexUpdate
	for _, idx := range p.Creates {
		creates = append(creates, types.GlobalSecondaryIndexUpdate{Create: &types.CreateGlobalSecondaryIndexAction{
			IndexName:             aws.String(idx.Name),
			KeySchema:             schema.KeySchema(idx.Parts),
			Projection:            &types.Projection{ProjectionType: types.ProjectionTypeAll},
			ProvisionedThroughput: idx.Throughput.Provisioned(),
		}})
	}
	for _, idx := range p.Updates {
		updates = append(updates, types.GlobalSecondaryIndexUpdate{Update: &types.UpdateGlobalSecondaryIndexAction{
			IndexName:             aws.String(idx.Name),
			ProvisionedThroughput: idx.Throughput.Provisioned(),
		}})
	}
	for _, name := range p.Deletes {
		deletes = append(deletes, types.GlobalSecondaryIndexUpdate{Delete: &types.DeleteGlobalSecondaryIndexAction{
			IndexName: aws.String(name),
		}})
	}

	request := func(gsi []types.GlobalSecondaryIndexUpdate, withAttrs bool) *dynamodb.UpdateTableInput {
		in := &dynamodb.UpdateTableInput{TableName: aws.String(p.TableName), GlobalSecondaryIndexUpdates: gsi}
		if withAttrs {
			in.AttributeDefinitions = p.AttributeDefinitions
		}
		return in
	}
	if batched {
		all := append(append(creates, updates...), deletes...)
		if len(all) > 0 {
			out = append(out, request(all, len(creates) > 0))
		}
		return out
	}
	for _, c := range creates {
		out = append(out, request([]types.GlobalSecondaryIndexUpdate{c}, true))
	}
	for _, u := range updates {
		out = append(out, request([]types.GlobalSecondaryIndexUpdate{u}, false))
	}
	for _, d := range deletes {
		out = append(out, request([]types.GlobalSecondaryIndexUpdate{d}, false))
	}
	return out
}
