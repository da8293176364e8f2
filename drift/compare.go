package drift

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/stackpilot/stackpilot/awsd/models"
	"github.com/stackpilot/stackpilot/errors"
	"github.com/stackpilot/stackpilot/state"
)

// instanceRecord is the recorded shape of an aws_instance state entry
type instanceRecord struct {
	ID               string            `json:"id"`
	AMI              string            `json:"ami"`
	InstanceType     string            `json:"instance_type"`
	SubnetID         string            `json:"subnet_id"`
	KeyName          string            `json:"key_name"`
	SecurityGroupIDs []string          `json:"vpc_security_group_ids"`
	PrivateIP        string            `json:"private_ip"`
	PublicIP         string            `json:"public_ip"`
	Monitoring       *bool             `json:"monitoring"`
	Tags             map[string]string `json:"tags"`
}

type vpcRecord struct {
	ID        string            `json:"id"`
	CIDRBlock string            `json:"cidr_block"`
	Tags      map[string]string `json:"tags"`
}

type subnetRecord struct {
	ID        string            `json:"id"`
	VPCID     string            `json:"vpc_id"`
	CIDRBlock string            `json:"cidr_block"`
	Tags      map[string]string `json:"tags"`
}

type sgRuleRecord struct {
	FromPort   int      `json:"from_port"`
	ToPort     int      `json:"to_port"`
	Protocol   string   `json:"protocol"`
	CIDRBlocks []string `json:"cidr_blocks"`
}

type sgRecord struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Ingress []sgRuleRecord    `json:"ingress"`
	Egress  []sgRuleRecord    `json:"egress"`
	Tags    map[string]string `json:"tags"`
}

// decodeRecord round-trips a state attribute map into a typed record
func decodeRecord(inst *state.Instance, target interface{}) error {
	raw, err := json.Marshal(inst.Attributes)
	if err == nil {
		err = json.Unmarshal(raw, target)
	}
	if err != nil {
		return errors.New(errors.ErrDriftChecker, "failed to decode state attributes",
			map[string]interface{}{}, err)
	}
	return nil
}

// runComparison launches one comparison goroutine
func runComparison(done chan<- struct{}, fn func()) {
	go func() {
		defer func() { done <- struct{}{} }()
		fn()
	}()
}

// compareInstance fans out field comparisons between the recorded instance
// and its live counterpart
func compareInstance(addr string, rec *instanceRecord, live *models.Instance, ch chan<- Drift) {
	done := make(chan struct{})
	comparisons := []func(){
		func() { compareInstanceBasics(addr, rec, live, ch) },
		func() { compareInstanceNetwork(addr, rec, live, ch) },
		func() { compareSecurityGroupIDs(addr, rec.SecurityGroupIDs, live.SecurityGroupIDs, ch) },
		func() { compareTags(addr, rec.Tags, live.Tags, ch) },
	}
	for _, fn := range comparisons {
		runComparison(done, fn)
	}
	for range comparisons {
		<-done
	}
}

func compareInstanceBasics(addr string, rec *instanceRecord, live *models.Instance, ch chan<- Drift) {
	if rec.AMI != "" && live.AMI != rec.AMI {
		ch <- Drift{Address: addr, Field: "ami", StateValue: rec.AMI, LiveValue: live.AMI, Severity: SeverityCritical}
	}
	if live.InstanceType != rec.InstanceType {
		ch <- Drift{Address: addr, Field: "instance_type", StateValue: rec.InstanceType, LiveValue: live.InstanceType, Severity: SeverityHigh}
	}
	if rec.KeyName != "" && live.KeyName != rec.KeyName {
		ch <- Drift{Address: addr, Field: "key_name", StateValue: rec.KeyName, LiveValue: live.KeyName, Severity: SeverityMedium}
	}
	if rec.Monitoring != nil && live.Monitoring != *rec.Monitoring {
		ch <- Drift{Address: addr, Field: "monitoring",
			StateValue: fmt.Sprintf("%t", *rec.Monitoring),
			LiveValue:  fmt.Sprintf("%t", live.Monitoring),
			Severity:   SeverityLow}
	}
}

func compareInstanceNetwork(addr string, rec *instanceRecord, live *models.Instance, ch chan<- Drift) {
	if rec.SubnetID != "" && live.SubnetID != rec.SubnetID {
		ch <- Drift{Address: addr, Field: "subnet_id", StateValue: rec.SubnetID, LiveValue: live.SubnetID, Severity: SeverityHigh}
	}
	if rec.PrivateIP != "" && live.PrivateIP != rec.PrivateIP {
		ch <- Drift{Address: addr, Field: "private_ip", StateValue: rec.PrivateIP, LiveValue: live.PrivateIP, Severity: SeverityMedium}
	}
	if rec.PublicIP != "" && live.PublicIP != rec.PublicIP {
		ch <- Drift{Address: addr, Field: "public_ip", StateValue: rec.PublicIP, LiveValue: live.PublicIP, Severity: SeverityMedium}
	}
}

func compareSecurityGroupIDs(addr string, recorded, live []string, ch chan<- Drift) {
	if len(recorded) == 0 && len(live) == 0 {
		return
	}
	recSorted := append([]string(nil), recorded...)
	liveSorted := append([]string(nil), live...)
	sort.Strings(recSorted)
	sort.Strings(liveSorted)
	if !reflect.DeepEqual(recSorted, liveSorted) {
		ch <- Drift{Address: addr, Field: "vpc_security_group_ids",
			StateValue: fmt.Sprintf("%v", recSorted),
			LiveValue:  fmt.Sprintf("%v", liveSorted),
			Severity:   SeverityHigh}
	}
}

// compareTags flags recorded tags that are missing or changed live. Tags the
// engine stamps on every resource (Name, ManagedBy) may exist live without
// being recorded, so extra live tags are not drift.
func compareTags(addr string, recorded, live map[string]string, ch chan<- Drift) {
	keys := make([]string, 0, len(recorded))
	for k := range recorded {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		want := recorded[k]
		got, ok := live[k]
		if !ok || got != want {
			ch <- Drift{Address: addr, Field: "tags." + k, StateValue: want, LiveValue: got, Severity: SeverityLow}
		}
	}
}

func compareVPC(addr string, rec *vpcRecord, live *models.VPC, ch chan<- Drift) {
	if live.CIDRBlock != rec.CIDRBlock {
		ch <- Drift{Address: addr, Field: "cidr_block", StateValue: rec.CIDRBlock, LiveValue: live.CIDRBlock, Severity: SeverityCritical}
	}
	compareTags(addr, rec.Tags, live.Tags, ch)
}

func compareSubnet(addr string, rec *subnetRecord, live *models.Subnet, ch chan<- Drift) {
	if live.CIDRBlock != rec.CIDRBlock {
		ch <- Drift{Address: addr, Field: "cidr_block", StateValue: rec.CIDRBlock, LiveValue: live.CIDRBlock, Severity: SeverityCritical}
	}
	if rec.VPCID != "" && live.VPCID != rec.VPCID {
		ch <- Drift{Address: addr, Field: "vpc_id", StateValue: rec.VPCID, LiveValue: live.VPCID, Severity: SeverityHigh}
	}
	compareTags(addr, rec.Tags, live.Tags, ch)
}

func compareSecurityGroup(addr string, rec *sgRecord, live *models.SecurityGroup, ch chan<- Drift) {
	if rec.Name != "" && live.GroupName != rec.Name {
		ch <- Drift{Address: addr, Field: "name", StateValue: rec.Name, LiveValue: live.GroupName, Severity: SeverityHigh}
	}
	compareRules(addr, "ingress", rec.Ingress, live.Ingress, ch)
	compareRules(addr, "egress", rec.Egress, live.Egress, ch)
	compareTags(addr, rec.Tags, live.Tags, ch)
}

// compareRules checks rule membership in both directions. Rules are matched
// on their normalized string form, order does not matter.
func compareRules(addr, field string, recorded []sgRuleRecord, live []models.Rule, ch chan<- Drift) {
	liveSet := make(map[string]bool, len(live))
	for _, r := range live {
		liveSet[ruleKey(r.FromPort, r.ToPort, r.Protocol, r.CIDRBlocks)] = true
	}
	recSet := make(map[string]bool, len(recorded))
	for _, r := range recorded {
		recSet[ruleKey(r.FromPort, r.ToPort, r.Protocol, r.CIDRBlocks)] = true
	}

	for key := range recSet {
		if !liveSet[key] {
			ch <- Drift{Address: addr, Field: field, StateValue: key, LiveValue: "", Severity: SeverityHigh}
		}
	}
	for key := range liveSet {
		if !recSet[key] {
			ch <- Drift{Address: addr, Field: field, StateValue: "", LiveValue: key, Severity: SeverityHigh}
		}
	}
}

func ruleKey(from, to int, proto string, cidrs []string) string {
	sorted := append([]string(nil), cidrs...)
	sort.Strings(sorted)
	return fmt.Sprintf("%d-%d/%s %v", from, to, proto, sorted)
}
