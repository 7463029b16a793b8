/*
Package component 提供 SystemApp：进程级的组件注册表与带前缀的配置存储。

服务应用、worker manager 工厂、LLM 客户端等都以名称注册到 SystemApp，
并在 InitApp、BeforeStart、AfterStart、BeforeStop 阶段按注册顺序收到回调。
*/
package component
