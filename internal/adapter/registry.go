// internal/adapter/registry.go
package adapter

import (
	"fmt"
	"sort"

	"CardSync/internal/interfaces"

	"github.com/sirupsen/logrus"
)

// ========== 全局工厂函数注册表：上游名 → 数据源工厂 ==========
var factoryRegistry = make(map[string]interfaces.Factory)

// Register 供数据源包的 init 调用
func Register(upstream string, factory interfaces.Factory) {
	if factory == nil {
		panic(fmt.Sprintf("上游%s的工厂函数不能为nil", upstream))
	}
	if _, exists := factoryRegistry[upstream]; exists {
		logrus.Warnf("上游%s的数据源已注册，将覆盖原有实现", upstream)
	}
	factoryRegistry[upstream] = factory
	logrus.Debugf("上游%s工厂函数注册成功", upstream)
}

// GetFactory 获取指定上游的工厂函数
func GetFactory(upstream string) (interfaces.Factory, bool) {
	factory, ok := factoryRegistry[upstream]
	return factory, ok
}

// ListFactories 列出所有已注册的上游（排序）
func ListFactories() []string {
	names := make([]string, 0, len(factoryRegistry))
	for name := range factoryRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
