package game

// 測試專用的狀態注入

func SetBall(s *Session, b Ball) { s.ball = b }

func SetScores(s *Session, scores [2]int) { s.scores = scores }

func SetPaddles(s *Session, paddles [2]float64) { s.paddles = paddles }
