package domain

// Record 是输入文件中的一行电影数据（id,title,year,director,genre）。
//
// 约束：只能由“恰好 5 个字段且 id/year 为整数”的行构造；残缺记录不存在。
// ID 不保证唯一，顺序即输入行顺序。
type Record struct {
	ID       int
	Title    string
	Year     int
	Director string
	Genre    string
}
