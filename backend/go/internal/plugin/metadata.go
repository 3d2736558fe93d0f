package plugin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"Chimp/backend/go/internal/models"
)

// Argument 描述工作单元接受的一个字符串参数。
type Argument struct {
	Key         string `json:"-"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Optional    bool   `json:"optional,omitempty"`
}

// Dataset 描述工作单元需要的一个逻辑数据集。
type Dataset struct {
	Key         string `json:"-"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Optional    bool   `json:"optional,omitempty"`
}

// Descriptor 是工作单元在发现时给出的、不可变的能力描述。
// Arguments 与 Datasets 的顺序即展示顺序。
type Descriptor struct {
	Name                 string
	Version              string
	Description          string
	Arguments            []Argument
	Datasets             []Dataset
	ProducesArtifactKind models.ModelKind
}

// RequiredDatasets 返回非可选的数据集键。
func (d Descriptor) RequiredDatasets() []string {
	var keys []string
	for _, ds := range d.Datasets {
		if !ds.Optional {
			keys = append(keys, ds.Key)
		}
	}
	return keys
}

// Dataset 按键查找数据集声明。
func (d Descriptor) Dataset(key string) (Dataset, bool) {
	for _, ds := range d.Datasets {
		if ds.Key == key {
			return ds, true
		}
	}
	return Dataset{}, false
}

// ValidDatasetKey 报告 key 能否直接用作 datasets/ 下的目录名。
func ValidDatasetKey(key string) bool {
	return key != "" && key != "." && key != ".." && !strings.ContainsAny(key, `/\`+"\x00")
}

// Validate 检查名称非空、参数键和数据集键各自唯一，且数据集键可以作为目录名。
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("descriptor has an empty name")
	}
	seen := make(map[string]bool)
	for _, a := range d.Arguments {
		if a.Key == "" {
			return fmt.Errorf("work unit %q declares an argument with an empty key", d.Name)
		}
		if seen[a.Key] {
			return fmt.Errorf("work unit %q declares argument %q twice", d.Name, a.Key)
		}
		seen[a.Key] = true
	}
	seen = make(map[string]bool)
	for _, ds := range d.Datasets {
		if ds.Key == "" {
			return fmt.Errorf("work unit %q declares a dataset with an empty key", d.Name)
		}
		if seen[ds.Key] {
			return fmt.Errorf("work unit %q declares dataset %q twice", d.Name, ds.Key)
		}
		if !ValidDatasetKey(ds.Key) {
			return fmt.Errorf("work unit %q declares dataset key %q that is not a valid directory name", d.Name, ds.Key)
		}
		seen[ds.Key] = true
	}
	if d.ProducesArtifactKind != "" && !d.ProducesArtifactKind.Valid() {
		return fmt.Errorf("work unit %q declares unknown artifact kind %q", d.Name, d.ProducesArtifactKind)
	}
	return nil
}

// MarshalJSON 输出与 /plugins?include_details=true 一致的结构，参数和数据集保持声明顺序。
func (d Descriptor) MarshalJSON() ([]byte, error) {
	args, err := orderedObject(len(d.Arguments), func(i int) (string, interface{}) {
		return d.Arguments[i].Key, d.Arguments[i]
	})
	if err != nil {
		return nil, err
	}
	datasets, err := orderedObject(len(d.Datasets), func(i int) (string, interface{}) {
		return d.Datasets[i].Key, d.Datasets[i]
	})
	if err != nil {
		return nil, err
	}

	var kind interface{}
	if d.ProducesArtifactKind != "" && d.ProducesArtifactKind != models.ModelKindNone {
		kind = d.ProducesArtifactKind
	}
	return json.Marshal(struct {
		Name            string          `json:"name"`
		Version         string          `json:"version"`
		Description     string          `json:"description"`
		Arguments       json.RawMessage `json:"arguments"`
		Datasets        json.RawMessage `json:"datasets"`
		ModelReturnType interface{}     `json:"model_return_type"`
	}{d.Name, d.Version, d.Description, args, datasets, kind})
}

func orderedObject(n int, item func(i int) (string, interface{})) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i := 0; i < n; i++ {
		key, value := item(i)
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
