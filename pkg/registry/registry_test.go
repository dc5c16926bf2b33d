package registry

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestStrictUnmarshal 验证严格解码逻辑。
func TestStrictUnmarshal(t *testing.T) {
	type opt struct {
		A int `json:"a"`
	}
	var o opt
	if err := strictUnmarshal(nil, &o); err != nil || o.A != 0 {
		t.Fatalf("nil 输入失败: %v", err)
	}
	if err := strictUnmarshal(json.RawMessage(`null`), &o); err != nil || o.A != 0 {
		t.Fatalf("null 输入失败: %v", err)
	}
	if err := strictUnmarshal(json.RawMessage(`{"a":1}`), &o); err != nil || o.A != 1 {
		t.Fatalf("合法 JSON 解析失败: %v", err)
	}
	if err := strictUnmarshal(json.RawMessage(`{"a":1,"b":2}`), &o); err == nil {
		t.Fatalf("未知字段应报错")
	}
}

// TestFactories 遍历注册表入口。
func TestFactories(t *testing.T) {
	env := Env{Workers: 2, OutputDir: t.TempDir(), FlatfieldDir: t.TempDir()}
	t.Run("estimator", func(t *testing.T) {
		for _, name := range []string{"basic", "identity"} {
			mk, err := Estimator[name](json.RawMessage(`{}`), env)
			if err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			a, _ := mk()
			b, _ := mk()
			if a == nil || a == b {
				t.Fatalf("%s: 每次调用应返回新实例", name)
			}
			if _, err := Estimator[name](json.RawMessage(`{"x":1}`), env); err == nil {
				t.Fatalf("%s 未对未知字段报错", name)
			}
		}
		if _, err := Estimator["basic"](json.RawMessage(`{"smoothness":2.5,"get_darkfield":true}`), env); err != nil {
			t.Fatalf("basic options: %v", err)
		}
	})
	t.Run("writer", func(t *testing.T) {
		if _, err := Writer["fs"](json.RawMessage(`{"atomic":false,"tiff_compression":"none"}`), env); err != nil {
			t.Fatalf("writer: %v", err)
		}
		if _, err := Writer["fs"](json.RawMessage(`{"x":1}`), env); err == nil {
			t.Fatalf("writer 未对未知字段报错")
		}
		// 目录只能由运行参数注入
		if _, err := Writer["fs"](json.RawMessage(`{"OutputDir":"/tmp"}`), env); err == nil {
			t.Fatalf("writer 不应接受 OutputDir 选项")
		}
		if _, err := Writer["fs"](nil, Env{}); err == nil {
			t.Fatalf("writer 缺少目录应报错")
		}
	})
}

func TestNames(t *testing.T) {
	if diff := cmp.Diff([]string{"basic", "identity"}, Names(Estimator)); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"fs"}, Names(Writer)); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}
}
